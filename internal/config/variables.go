package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type errList []string

func (e *errList) addf(format string, a ...any) { *e = append(*e, fmt.Sprintf(format, a...)) }
func (e *errList) add(msg string)               { *e = append(*e, msg) }
func (e *errList) has() bool                    { return len(*e) > 0 }

// newViper layers defaults, an optional YAML/JSON file and the process
// environment. Keys are lower snake case; the matching environment variable is
// the upper case form (discovery_port -> DISCOVERY_PORT).
func newViper(path string, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

func getRequired(v *viper.Viper, key string, errs *errList) string {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		errs.addf("faltando %s", strings.ToUpper(key))
	}
	return s
}

func ensureOneOf(key, val string, allowed []string, errs *errList) {
	for _, a := range allowed {
		if val == a {
			return
		}
	}
	errs.addf("%s inválido (permitidos: %s): %q", strings.ToUpper(key), strings.Join(allowed, ", "), val)
}

func ensurePositive(key string, n int64, errs *errList) {
	if n <= 0 {
		errs.addf("%s deve ser > 0", strings.ToUpper(key))
	}
}

func ensurePort(key string, port int, errs *errList) {
	if port <= 0 || port > 65535 {
		errs.addf("%s inválido (1..65535): %d", strings.ToUpper(key), port)
	}
}

func parseList(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampQoS(n int) byte {
	if n < 0 {
		n = 0
	}
	if n > 2 {
		n = 2
	}
	return byte(n)
}

func mask(s string) string { return strings.Repeat("*", len(s)) }

func joinErrs(errs errList) error {
	return fmt.Errorf("variáveis de ambiente faltando/inválidas:\n  %s", strings.Join(errs, "\n  "))
}
