package detector

import (
	"fmt"
	"regexp"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

func init() {
	register(ruleDef{
		id:          "hardcoded-secret",
		category:    "secrets",
		severity:    scans.SeverityCritical,
		weight:      40,
		description: "credential material embedded in a data segment",
		eval:        evalHardcodedSecret,
	})
}

type secretPattern struct {
	re         *regexp.Regexp
	title      string
	confidence float64
}

// Order is part of the output contract: one finding per pattern per segment.
var secretPatterns = []secretPattern{
	{regexp.MustCompile(`S[A-Z2-7]{55}`), "Stellar secret seed", 0.95},
	{regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), "Private key material", 0.95},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AWS access key", 0.9},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{20,}`), "GitHub token", 0.9},
	{regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`), "GitHub PAT", 0.9},
	{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), "Google API key", 0.85},
	{regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`), "Slack token", 0.85},
	{regexp.MustCompile(`sk_(?:live|test)_[0-9A-Za-z]{10,}`), "Stripe secret key", 0.85},
	{regexp.MustCompile(`(?i)sk-[a-z0-9\-_]{20,}`), "OpenAI API key", 0.8},
	{regexp.MustCompile(`[A-Za-z0-9\-_]{8,}\.eyJ[A-Za-z0-9\-_]{5,}\.[A-Za-z0-9\-_]{10,}`), "JWT token", 0.7},
	{regexp.MustCompile(`://[^\s/:@]+:[^\s/@]+@`), "Credentials embedded in URL", 0.7},
	{regexp.MustCompile(`(?i)(api[_-]?key|client[_-]?secret|secret|token)\s*[:=]\s*["']?[^\s"'\x00]{12,}`), "Sensitive credential literal", 0.6},
}

func evalHardcodedSecret(v *View, _ checklist.Rule, m *Meter) ([]scans.Finding, error) {
	var out []scans.Finding
	for i, seg := range v.Module.Data {
		for _, p := range secretPatterns {
			if err := m.Step(len(seg.Init)/64 + 1); err != nil {
				return nil, err
			}
			loc := p.re.FindIndex(seg.Init)
			if loc == nil {
				continue
			}
			out = append(out, scans.Finding{
				Location:   scans.Location{Offset: seg.FileOffset + loc[0], Symbol: fmt.Sprintf("data[%d]", i)},
				Message:    fmt.Sprintf("%s: %s", p.title, redact(seg.Init[loc[0]:loc[1]])),
				Confidence: p.confidence,
			})
		}
	}
	return out, nil
}

// redact keeps a short prefix so a finding can be matched without repeating
// the secret.
func redact(b []byte) string {
	const keep = 4
	if len(b) <= keep {
		return "****"
	}
	return string(b[:keep]) + "****"
}
