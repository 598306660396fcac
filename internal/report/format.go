package report

import (
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Unavailable は値が得られない場合の表示。
const Unavailable = "—"

// reportLanguage はKPIの桁区切りに使うロケール。
var reportLanguage = language.Spanish

// minGroupedInt は桁区切りを入れる最小の絶対値。
// スペイン語では4桁の数は区切らない（1234、12.345）。
const minGroupedInt = 10000

// formatInt は整数をスペイン語ロケールの桁区切りで整形する。
func formatInt(n int64) string {
	if n > -minGroupedInt && n < minGroupedInt {
		return strconv.FormatInt(n, 10)
	}
	return message.NewPrinter(reportLanguage).Sprintf("%d", n)
}

// formatRounded は小数を四捨五入して整数として整形する。
func formatRounded(v float64) string {
	return formatInt(int64(math.Round(v)))
}

// formatFixed は小数点以下の桁数を固定して整形する。小数点は"."。
func formatFixed(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// formatThousands は1000で割って小数1桁とK接尾辞で整形する。
func formatThousands(v float64) string {
	return formatFixed(v/1000, 1) + "K"
}

// formatPercent は百分率を整形する。vは既に100倍された値。
func formatPercent(v float64, decimals int) string {
	return formatFixed(v, decimals) + "%"
}

// formatRatioPercent は分子/分母を百分率で整形する。分母が0の場合は"0%"。
func formatRatioPercent(num, den float64) string {
	if den == 0 {
		return "0%"
	}
	return formatPercent(num/den*100, 1)
}

// formatMoney は金額を整数に丸めて$接頭辞で整形する。
func formatMoney(v float64) string {
	return "$" + formatRounded(v)
}

// formatMoneyFixed は金額を小数2桁と$接頭辞で整形する。
func formatMoneyFixed(v float64) string {
	return "$" + formatFixed(v, 2)
}

// formatROAS は広告費用対効果を小数1桁とx接尾辞で整形する。
func formatROAS(revenue, spend float64) string {
	if spend == 0 || revenue == 0 {
		return Unavailable
	}
	return formatFixed(revenue/spend, 1) + "x"
}

// mean は平均を返す。空の場合は0。
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// parseNumber は数値文字列を解釈する。解釈できない場合は0。
func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
