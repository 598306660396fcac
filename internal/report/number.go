package report

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// number はJSONの数値と数値文字列のどちらも受け付ける。
// GA4・Google Ads・Meta・HubSpotは数値を文字列で返すことがある。
// 解釈できない値や空文字は0として扱う。
type number float64

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = number(parseNumber(s))
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}

func (n number) float() float64 {
	return float64(n)
}
