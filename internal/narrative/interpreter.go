package narrative

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ActionsDelimiter はナラティブ本文と構造化されたアクションを区切る接頭辞。
const ActionsDelimiter = `{"u":`

// Actions はサマリー末尾のJSONで示される3つのアクション。
type Actions struct {
	Urgent      string `json:"u"`
	Opportunity string `json:"o"`
	Sustain     string `json:"s"`
}

// Result は解釈済みのサマリー。
type Result struct {
	Narrative string   `json:"narrative"`
	Actions   *Actions `json:"actions,omitempty"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

// Interpreter はイベントストリームを任意の区切りのチャンクで受け取り、逐次解釈する。
// 行がチャンクをまたぐ場合は次のチャンクまで保留する。
// 解釈できない行は無視する。
type Interpreter struct {
	pending []byte
	text    strings.Builder
}

// NewInterpreter はInterpreterを生成する。
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// Feed はストリームの次のチャンクを取り込む。
func (in *Interpreter) Feed(chunk []byte) {
	in.pending = append(in.pending, chunk...)
	for {
		i := bytes.IndexByte(in.pending, '\n')
		if i < 0 {
			return
		}
		line := in.pending[:i]
		in.pending = in.pending[i+1:]
		in.consume(line)
	}
}

// Close は末尾の改行のない行を処理する。
func (in *Interpreter) Close() {
	if len(in.pending) > 0 {
		in.consume(in.pending)
		in.pending = nil
	}
}

func (in *Interpreter) consume(line []byte) {
	line = bytes.TrimRight(line, "\r")
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return
	}
	var ev streamEvent
	if err := json.Unmarshal(bytes.TrimSpace(data), &ev); err != nil {
		return
	}
	if ev.Type == "content_block_delta" && ev.Delta.Text != "" {
		in.text.WriteString(ev.Delta.Text)
	}
}

// Narrative はこれまでに受け取った本文を返す。区切りが現れた後はその手前までを返す。
func (in *Interpreter) Narrative() string {
	narrative, _ := in.split()
	return narrative
}

// Result は現時点の解釈結果を返す。
// アクション部分が不完全または不正な場合は本文だけを返す。
func (in *Interpreter) Result() Result {
	narrative, suffix := in.split()
	res := Result{Narrative: narrative}
	if suffix == "" {
		return res
	}
	// JSONの後ろに続く文字列は無視する
	var actions Actions
	if err := json.NewDecoder(strings.NewReader(stripFences(suffix))).Decode(&actions); err == nil {
		res.Actions = &actions
	}
	return res
}

func (in *Interpreter) split() (string, string) {
	full := in.text.String()
	i := strings.Index(full, ActionsDelimiter)
	if i < 0 {
		return strings.TrimSpace(full), ""
	}
	narrative := strings.TrimSpace(full[:i])
	narrative = strings.TrimSuffix(narrative, "```json")
	narrative = strings.TrimSuffix(narrative, "```")
	return strings.TrimSpace(narrative), full[i:]
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// Interpret はストリーム全体を解釈する。
func Interpret(stream []byte) Result {
	in := NewInterpreter()
	in.Feed(stream)
	in.Close()
	return in.Result()
}
