package narrative

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitoshi/mbr/internal/model"
)

// maxDataContext はプロンプトに埋め込むレポートJSONの最大文字数。
const maxDataContext = 3000

// BuildPrompt はユーザー設定とレポートからエグゼクティブサマリー用のプロンプトを組み立てる。
// クライアントがプロンプトを送らずにレポートだけを送った場合に使う。
func BuildPrompt(cfg model.UserConfig, report model.Report) string {
	company := orDefault(cfg.Company, "la empresa")
	industry := orDefault(cfg.Industry, "B2B")

	var stars []string
	for _, ns := range model.EvaluateNorthStars(cfg.NorthStars) {
		stars = append(stars, fmt.Sprintf("- %s: real %s / meta %s", ns.Label, orDefault(ns.Real, "—"), orDefault(ns.Goal, "—")))
	}
	starContext := strings.Join(stars, "\n")
	if starContext == "" {
		starContext = "No se especificaron."
	}

	data, err := json.MarshalIndent(report.Sections, "", "  ")
	if err != nil {
		data = []byte("[]")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sos el CMO de %s (industria: %s).\n", company, industry)
	b.WriteString("Revisaste el MBR de marketing del mes. Escribí una nota ejecutiva de interpretación en primera persona del plural.\n\n")
	b.WriteString("North Stars del mes (real vs. meta):\n")
	b.WriteString(starContext)
	b.WriteString("\n\nDatos del mes:\n")
	b.WriteString(truncateRunes(string(data), maxDataContext))
	b.WriteString(`

Instrucciones:
- 3-4 oraciones fluidas, sin bullets ni títulos
- Compará lo logrado vs. el objetivo y explicá qué significa para el negocio
- Nombrá el principal driver del mes
- Cerrá con una recomendación accionable y con convicción
- Tono: estratégico, directo, opinión real de CMO senior
- Español rioplatense, primera persona del plural

Luego en nueva línea, solo este JSON sin backticks:
{"u":"[acción urgente, 1 oración]","o":"[oportunidad a capitalizar, 1 oración]","s":"[qué sostener, 1 oración]"}`)
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
