package menu

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ItemWithParent pairs a definition with the id of the submenu holding it.
type ItemWithParent struct {
	ParentID int
	Item     Item
}

type jsonTree struct {
	Items []jsonEntry `json:"items"`
}

type jsonEntry struct {
	ParentID int      `json:"parentId"`
	Type     string   `json:"type"`
	Item     jsonItem `json:"item"`
}

type jsonItem struct {
	Name          string    `json:"name"`
	EepromAddress int       `json:"eepromAddress"`
	ID            int       `json:"id"`
	ReadOnly      flexBool  `json:"readOnly"`
	Visible       *flexBool `json:"visible,omitempty"`
	LocalOnly     flexBool  `json:"localOnly"`
	FunctionName  string    `json:"functionName,omitempty"`

	MaxValue      int      `json:"maxValue,omitempty"`
	Offset        int      `json:"offset,omitempty"`
	Divisor       int      `json:"divisor,omitempty"`
	UnitName      string   `json:"unitName,omitempty"`
	Step          int      `json:"step,omitempty"`
	EnumEntries   []string `json:"enumEntries,omitempty"`
	Naming        string   `json:"naming,omitempty"`
	DecimalPlaces int      `json:"numDecimalPlaces,omitempty"`
	LargeDecimals int      `json:"decimalPlaces,omitempty"`
	DigitsAllowed int      `json:"digitsAllowed,omitempty"`
	Negative      bool     `json:"negativeAllowed,omitempty"`
	TextType      string   `json:"itemType,omitempty"`
	TextLength    int      `json:"textLength,omitempty"`
	InitialRows   int      `json:"initialRows,omitempty"`
	NumEntries    int      `json:"numEntries,omitempty"`
	ItemWidth     int      `json:"itemWidth,omitempty"`
	ChoiceMode    string   `json:"choiceMode,omitempty"`
	IncludeAlpha  bool     `json:"includeAlphaChannel,omitempty"`
	Secured       bool     `json:"secured,omitempty"`
}

// flexBool accepts true/false as well as the quoted "true"/"false" some
// device exports write.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := string(data)
	if uq, err := strconv.Unquote(s); err == nil {
		s = uq
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("boolean field: %w", err)
	}
	*b = flexBool(v)
	return nil
}

var namingNames = map[BoolNaming]string{
	NamingTrueFalse: "TRUE_FALSE",
	NamingOnOff:     "ON_OFF",
	NamingYesNo:     "YES_NO",
	NamingCheckbox:  "CHECKBOX",
}

var editTypeNames = map[EditType]string{
	EditPlainText:      "PLAIN_TEXT",
	EditIPAddress:      "IP_ADDRESS",
	EditTime24:         "TIME_24H",
	EditTime12:         "TIME_12H",
	EditTime24Hundreds: "TIME_24_HUNDREDS",
	EditGregorianDate:  "GREGORIAN_DATE",
	EditTimeDuration:   "TIME_DURATION_SECONDS",
}

var choiceModeNames = map[ScrollChoiceMode]string{
	ScrollArrayInEeprom:  "ARRAY_IN_EEPROM",
	ScrollArrayInRAM:     "ARRAY_IN_RAM",
	ScrollCustomRenderFn: "CUSTOM_RENDERFN",
}

func lookup[K comparable](m map[K]string, name string, def K) K {
	for k, v := range m {
		if v == name {
			return k
		}
	}
	return def
}

// UnmarshalItems decodes the {"items":[{"parentId","type","item"}]} layout.
func UnmarshalItems(data []byte) ([]ItemWithParent, error) {
	var doc jsonTree
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode menu json: %w", err)
	}
	out := make([]ItemWithParent, 0, len(doc.Items))
	for i, e := range doc.Items {
		kind, err := ParseKind(e.Type)
		if err != nil {
			return nil, fmt.Errorf("menu json entry %d: %w", i, err)
		}
		out = append(out, ItemWithParent{ParentID: e.ParentID, Item: e.Item.toItem(kind)})
	}
	return out, nil
}

func (j jsonItem) toItem(kind Kind) Item {
	info := Info{
		ID:            j.ID,
		Name:          j.Name,
		EepromAddress: j.EepromAddress,
		ReadOnly:      bool(j.ReadOnly),
		Visible:       j.Visible == nil || bool(*j.Visible),
		LocalOnly:     bool(j.LocalOnly),
		FunctionName:  j.FunctionName,
	}
	var p Payload
	switch kind {
	case KindSubMenu:
		p = SubMenuInfo{Secured: j.Secured}
	case KindAnalog:
		p = AnalogInfo{MaxValue: j.MaxValue, Offset: j.Offset, Divisor: j.Divisor, Unit: j.UnitName, Step: j.Step}
	case KindEnum:
		p = EnumInfo{Entries: j.EnumEntries}
	case KindBoolean:
		p = BooleanInfo{Naming: lookup(namingNames, j.Naming, NamingTrueFalse)}
	case KindFloat:
		p = FloatInfo{DecimalPlaces: j.DecimalPlaces}
	case KindLargeNumber:
		p = LargeNumberInfo{DecimalPlaces: j.LargeDecimals, DigitsAllowed: j.DigitsAllowed, Negative: j.Negative}
	case KindText:
		p = TextInfo{EditType: lookup(editTypeNames, j.TextType, EditPlainText), TextLength: j.TextLength}
	case KindRuntimeList:
		p = RuntimeListInfo{InitialRows: j.InitialRows}
	case KindScrollChoice:
		p = ScrollChoiceInfo{NumEntries: j.NumEntries, ItemWidth: j.ItemWidth, Mode: lookup(choiceModeNames, j.ChoiceMode, ScrollArrayInEeprom)}
	case KindRgb32:
		p = Rgb32Info{IncludeAlpha: j.IncludeAlpha}
	default:
		p = ActionInfo{}
	}
	return New(info, p)
}

func fromItem(it Item) jsonItem {
	visible := flexBool(it.Visible())
	j := jsonItem{
		Name:          it.Name(),
		EepromAddress: it.EepromAddress(),
		ID:            it.ID(),
		ReadOnly:      flexBool(it.ReadOnly()),
		Visible:       &visible,
		LocalOnly:     flexBool(it.LocalOnly()),
		FunctionName:  it.FunctionName(),
	}
	switch p := it.Payload().(type) {
	case SubMenuInfo:
		j.Secured = p.Secured
	case AnalogInfo:
		j.MaxValue, j.Offset, j.Divisor, j.UnitName, j.Step = p.MaxValue, p.Offset, p.Divisor, p.Unit, p.Step
	case EnumInfo:
		j.EnumEntries = p.Entries
	case BooleanInfo:
		j.Naming = namingNames[p.Naming]
	case FloatInfo:
		j.DecimalPlaces = p.DecimalPlaces
	case LargeNumberInfo:
		j.LargeDecimals, j.DigitsAllowed, j.Negative = p.DecimalPlaces, p.DigitsAllowed, p.Negative
	case TextInfo:
		j.TextType, j.TextLength = editTypeNames[p.EditType], p.TextLength
	case RuntimeListInfo:
		j.InitialRows = p.InitialRows
	case ScrollChoiceInfo:
		j.NumEntries, j.ItemWidth, j.ChoiceMode = p.NumEntries, p.ItemWidth, choiceModeNames[p.Mode]
	case Rgb32Info:
		j.IncludeAlpha = p.IncludeAlpha
	}
	return j
}

// MarshalTree writes every item of the tree, parents before children.
func MarshalTree(t *Tree) ([]byte, error) {
	doc := jsonTree{Items: []jsonEntry{}}
	for _, it := range t.GetAllMenuItems() {
		pid, _ := t.ParentID(it.ID())
		doc.Items = append(doc.Items, jsonEntry{ParentID: pid, Type: it.Kind().String(), Item: fromItem(it)})
	}
	return json.Marshal(doc)
}

// LoadTree builds a tree from the JSON layout read by UnmarshalItems. An
// empty document yields the default tree.
func LoadTree(data []byte) (*Tree, error) {
	if len(data) == 0 {
		data = []byte(DefaultTreeJSON)
	}
	items, err := UnmarshalItems(data)
	if err != nil {
		return nil, err
	}
	t := NewTree()
	for _, ip := range items {
		if _, err := t.AddOrUpdateItem(ip.ParentID, ip.Item); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultTree is the demo tree served by the simulator when no tree is
// configured.
func DefaultTree() *Tree {
	t, err := LoadTree(nil)
	if err != nil {
		panic(err)
	}
	return t
}

const DefaultTreeJSON = `{"items":[
{"parentId":0,"type":"analogItem","item":{"name":"Voltage","eepromAddress":2,"id":1,"readOnly":false,"localOnly":false,"functionName":"onVoltageChange","maxValue":255,"offset":-128,"divisor":2,"unitName":"V"}},
{"parentId":0,"type":"analogItem","item":{"name":"Current","eepromAddress":4,"id":2,"readOnly":false,"localOnly":false,"functionName":"onCurrentChange","maxValue":255,"offset":0,"divisor":100,"unitName":"A"}},
{"parentId":0,"type":"enumItem","item":{"name":"Limit","eepromAddress":6,"id":3,"readOnly":false,"localOnly":false,"functionName":"onLimitMode","enumEntries":["Current","Voltage"]}},
{"parentId":0,"type":"subMenu","item":{"name":"Settings","eepromAddress":-1,"id":4,"readOnly":false,"localOnly":false,"secured":false}},
{"parentId":4,"type":"boolItem","item":{"name":"Pwr Delay","eepromAddress":-1,"id":5,"readOnly":false,"localOnly":false,"naming":"YES_NO"}},
{"parentId":4,"type":"actionMenu","item":{"name":"Save all","eepromAddress":-1,"id":10,"readOnly":false,"localOnly":false,"functionName":"onSaveRom"}},
{"parentId":4,"type":"subMenu","item":{"name":"Advanced","eepromAddress":-1,"id":11,"readOnly":false,"localOnly":false,"secured":false}},
{"parentId":11,"type":"boolItem","item":{"name":"S-Circuit Protect","eepromAddress":8,"id":12,"readOnly":false,"localOnly":false,"naming":"ON_OFF"}},
{"parentId":11,"type":"boolItem","item":{"name":"Temp Check","eepromAddress":9,"id":13,"readOnly":false,"localOnly":false,"naming":"ON_OFF"}},
{"parentId":0,"type":"subMenu","item":{"name":"Status","eepromAddress":-1,"id":7,"readOnly":false,"localOnly":false,"secured":false}},
{"parentId":7,"type":"floatItem","item":{"name":"Volt A0","eepromAddress":-1,"id":8,"readOnly":true,"localOnly":false,"numDecimalPlaces":2}},
{"parentId":7,"type":"floatItem","item":{"name":"Volt A1","eepromAddress":-1,"id":9,"readOnly":true,"localOnly":false,"numDecimalPlaces":2}},
{"parentId":7,"type":"largeNumItem","item":{"name":"RotationCounter","eepromAddress":-1,"id":16,"readOnly":true,"localOnly":false,"decimalPlaces":4,"digitsAllowed":8}},
{"parentId":0,"type":"subMenu","item":{"name":"Connectivity","eepromAddress":-1,"id":14,"readOnly":false,"localOnly":true,"secured":true}},
{"parentId":14,"type":"textItem","item":{"name":"Ip Address","eepromAddress":10,"id":15,"readOnly":false,"visible":"false","localOnly":false,"itemType":"IP_ADDRESS","textLength":20}}
]}`
