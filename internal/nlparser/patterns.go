package nlparser

import "regexp"

// category groups surface patterns sharing an Action and a required slot
// set. Patterns are tried in category order; the category list itself is
// ordered so that more specific categories (emergency, status) are checked
// ahead of broad ones.
type category struct {
	name          string
	action        domainAction
	weight        float64
	requiredSlots []string
	patterns      []*regexp.Regexp
}

// domainAction is the pattern table's own action type; parser.go's
// buildIntent converts it to domain.Action.
type domainAction string

const (
	actConnect      domainAction = "connect"
	actDisconnect   domainAction = "disconnect"
	actTakeoff      domainAction = "takeoff"
	actLand         domainAction = "land"
	actMove         domainAction = "move"
	actRotate       domainAction = "rotate"
	actAltitude     domainAction = "altitude"
	actPhoto        domainAction = "photo"
	actStreaming    domainAction = "streaming"
	actDetection    domainAction = "detection"
	actTracking     domainAction = "tracking"
	actLearningData domainAction = "learning_data"
	actEmergency    domainAction = "emergency"
	actStatus       domainAction = "status"
)

func re(pattern string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + pattern)
}

// defaultCategories is the bilingual (Japanese-primary, English-secondary)
// pattern table. Each pattern is intentionally small and composable rather
// than one giant alternation, keeping the action vocabulary a short fixed
// list rather than a combinatorial grammar.
var defaultCategories = []category{
	{
		name:   "emergency",
		action: actEmergency,
		weight: 1.0,
		patterns: []*regexp.Regexp{
			re(`緊急停止`), re(`止まれ`), re(`emergency\s*stop`), re(`\babort\b`), re(`\bstop\s+now\b`),
		},
	},
	{
		name:   "connect",
		action: actConnect,
		weight: 0.9,
		patterns: []*regexp.Regexp{
			re(`接続(して|する)?`), re(`繋(いで|げて)`), re(`\bconnect\b`), re(`\blink\s+up\b`),
		},
	},
	{
		name:   "status",
		action: actStatus,
		weight: 0.85,
		patterns: []*regexp.Regexp{
			re(`状態(を)?(教えて|確認)`), re(`バッテリー(は|を)?`), re(`\bstatus\b`), re(`\bhow\s+(is|are)\s+(it|you|the\s+drone)\b`), re(`\bbattery\b`),
		},
	},
	{
		name:   "flight_control_takeoff",
		action: actTakeoff,
		weight: 0.9,
		patterns: []*regexp.Regexp{
			re(`離陸(して|する)?`), re(`飛び立(って|つ)`), re(`\btake\s*off\b`), re(`\blaunch\b`),
		},
	},
	{
		name:   "flight_control_land",
		action: actLand,
		weight: 0.9,
		patterns: []*regexp.Regexp{
			re(`着陸(して|する)?`), re(`降り(て|る)`), re(`\bland\b`),
		},
	},
	{
		name:          "movement",
		action:        actMove,
		weight:        0.8,
		requiredSlots: []string{"direction", "distance"},
		patterns: []*regexp.Regexp{
			re(`(前|まえ)(に|へ)?\s*(\d+(\.\d+)?)\s*(センチ|cm|メートル|m)?`),
			re(`(後ろ|うしろ|後)(に|へ)?\s*(\d+(\.\d+)?)\s*(センチ|cm|メートル|m)?`),
			re(`(右|みぎ)(に|へ)?\s*(\d+(\.\d+)?)\s*(センチ|cm|メートル|m)?`),
			re(`(左|ひだり)(に|へ)?\s*(\d+(\.\d+)?)\s*(センチ|cm|メートル|m)?`),
			re(`(上|うえ)(に|へ)?\s*(\d+(\.\d+)?)\s*(センチ|cm|メートル|m)?`),
			re(`(下|した)(に|へ)?\s*(\d+(\.\d+)?)\s*(センチ|cm|メートル|m)?`),
			re(`\b(forward|ahead)\b.*?(\d+(\.\d+)?)\s*(cm|centimeters?|m|meters?)?`),
			re(`\b(back|backward|backwards)\b.*?(\d+(\.\d+)?)\s*(cm|centimeters?|m|meters?)?`),
			re(`\b(right)\b.*?(\d+(\.\d+)?)\s*(cm|centimeters?|m|meters?)?`),
			re(`\b(left)\b.*?(\d+(\.\d+)?)\s*(cm|centimeters?|m|meters?)?`),
			re(`\b(up)\b.*?(\d+(\.\d+)?)\s*(cm|centimeters?|m|meters?)?`),
			re(`\b(down)\b.*?(\d+(\.\d+)?)\s*(cm|centimeters?|m|meters?)?`),
			re(`\bmove\s+(forward|back|left|right|up|down)\b`),
		},
	},
	{
		name:          "rotation",
		action:        actRotate,
		weight:        0.8,
		requiredSlots: []string{"angle"},
		patterns: []*regexp.Regexp{
			re(`(時計回り|右回り)(に)?\s*(\d+(\.\d+)?)\s*度?`),
			re(`(反時計回り|左回り)(に)?\s*(\d+(\.\d+)?)\s*度?`),
			re(`回転(して|する)?`),
			re(`\b(rotate|turn)\s+(clockwise|cw)\b.*?(\d+(\.\d+)?)\s*(deg|degrees?)?`),
			re(`\b(rotate|turn)\s+(counterclockwise|ccw)\b.*?(\d+(\.\d+)?)\s*(deg|degrees?)?`),
			re(`\bspin\b`),
		},
	},
	{
		name:          "altitude",
		action:        actAltitude,
		weight:        0.8,
		requiredSlots: []string{"target"},
		patterns: []*regexp.Regexp{
			re(`高度(を)?\s*(\d+(\.\d+)?)\s*(センチ|cm|メートル|m)?\s*(に)?`),
			re(`\baltitude\b.*?(\d+(\.\d+)?)\s*(cm|centimeters?|m|meters?)?`),
			re(`\bset\s+height\b`), re(`\bclimb\s+to\b`),
		},
	},
	{
		name:   "camera",
		action: actPhoto,
		weight: 0.75,
		patterns: []*regexp.Regexp{
			re(`写真(を)?(撮って|撮る)`), re(`撮影(して|する)?`), re(`\btake\s+(a\s+)?(photo|picture)\b`), re(`\bsnapshot\b`),
		},
	},
	{
		name:   "streaming",
		action: actStreaming,
		weight: 0.7,
		patterns: []*regexp.Regexp{
			re(`配信(を)?(開始|停止)`), re(`映像(を)?(見せて|開始)`), re(`\bstream(ing)?\b`), re(`\bstart\s+video\b`), re(`\bstop\s+video\b`),
		},
	},
	{
		name:   "vision",
		action: actDetection,
		weight: 0.7,
		patterns: []*regexp.Regexp{
			re(`検出(して|する)?`), re(`見つけて`), re(`\bdetect\b`), re(`\bfind\s+(the\s+)?object\b`),
		},
	},
	{
		name:   "tracking",
		action: actTracking,
		weight: 0.7,
		patterns: []*regexp.Regexp{
			re(`追跡(して|する)?`), re(`追いかけて`), re(`\btrack\b`), re(`\bfollow\b`),
		},
	},
	{
		name:   "learning_data",
		action: actLearningData,
		weight: 0.6,
		patterns: []*regexp.Regexp{
			re(`学習データ`), re(`データ(を)?(集めて|収集)`), re(`\bcollect\s+(training\s+)?data\b`), re(`\blearning\s+data\b`),
		},
	},
	{
		name:   "disconnect",
		action: actDisconnect,
		weight: 0.85,
		patterns: []*regexp.Regexp{
			re(`切断(して|する)?`), re(`接続を切って`), re(`\bdisconnect\b`), re(`\bdrop\s+connection\b`),
		},
	},
}
