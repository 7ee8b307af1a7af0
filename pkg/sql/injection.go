package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a value libinjection classified as SQL injection.
type InjectionCheckResult struct {
	IsSQLi      bool
	Fingerprint string // libinjection token fingerprint, e.g. "s&1c"
	ParamName   string
	ParamValue  any
}

// CheckParameterForInjection runs libinjection over a string parameter value.
// Non-string values cannot carry injection and return nil.
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	if isSQLi, fingerprint := libinjection.IsSQLi(strValue); isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}
	return nil
}
