// Package users implements the user/group builtin family. It parses
// /etc/shadow and /etc/passwd text through the Context file reader, since
// Go has no direct shadow(3)/passwd(3) NSS binding in the standard
// library.
package users

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:       "EnsureShadowContains",
		Audit:      auditEnsureShadowContains,
		FieldNames: []string{"username", "field", "value", "operation", "test_etcShadowPath"},
		Description: "Checks one /etc/shadow record field (or all records, if username is omitted) against an " +
			"expected value using the requested comparison operation.",
	})
}

var shadowFields = map[string]int{
	"username":       0,
	"password":       1,
	"chg_lst":        2,
	"chg_allow":      3,
	"chg_req":        4,
	"exp_warn":       5,
	"exp_inact":      6,
	"exp_date":       7,
	"flag":           8,
	"encrypt_method": -1, // derived from the password field's crypt prefix
}

var prettyFieldNames = map[string]string{
	"username":       "login name",
	"password":       "encrypted password",
	"chg_lst":        "last password change date",
	"chg_allow":      "minimum password age",
	"chg_req":        "maximum password age",
	"exp_warn":       "password warning period",
	"exp_inact":      "password inactivity period",
	"exp_date":       "account expiration date",
	"flag":           "reserved field",
	"encrypt_method": "password encryption method",
}

type shadowParams struct {
	Username  bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"username"`
	Field     bindings.StringValue                                         `param:"field"`
	Value     bindings.StringValue                                         `param:"value"`
	Operation bindings.StringValue                                         `param:"operation"`
	ShadowPath bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"test_etcShadowPath"`
}

type shadowRecord struct {
	raw []string
}

func parseShadow(contents string) []shadowRecord {
	var records []shadowRecord
	for _, line := range strings.Split(contents, "\n") {
		if line == "" {
			continue
		}
		records = append(records, shadowRecord{raw: strings.Split(line, ":")})
	}
	return records
}

func shadowFieldValue(rec shadowRecord, field string) string {
	if field == "encrypt_method" {
		pw := shadowFieldValue(rec, "password")
		return encryptMethodFromHash(pw)
	}
	idx, ok := shadowFields[field]
	if !ok || idx < 0 || idx >= len(rec.raw) {
		return ""
	}
	return rec.raw[idx]
}

// encryptMethodFromHash maps a shadow password hash's crypt(3) prefix to
// its algorithm identifier.
func encryptMethodFromHash(hash string) string {
	switch {
	case strings.HasPrefix(hash, "$6$"):
		return "sha512"
	case strings.HasPrefix(hash, "$5$"):
		return "sha256"
	case strings.HasPrefix(hash, "$1$"):
		return "md5"
	case strings.HasPrefix(hash, "$2"):
		return "bcrypt"
	default:
		return "unknown"
	}
}

func compareShadowValue(field, actual, expected, operation string) (bool, *status.Err) {
	switch field {
	case "username", "password", "encrypt_method":
		if operation != "match" {
			return false, status.NewCallerError("Unsupported operation for string comparison")
		}
		re, reErr := regexp2.Compile(expected, regexp2.None)
		if reErr != nil {
			return false, status.NewCallerError("Pattern match failed: %v", reErr)
		}
		m, matchErr := re.FindStringMatch(actual)
		if matchErr != nil {
			return false, status.NewCallerError("Pattern match failed: %v", matchErr)
		}
		return m != nil, nil
	default:
		lhs, lhsErr := strconv.Atoi(actual)
		if lhsErr != nil {
			return false, status.NewCallerError("Invalid integer value: %s", actual)
		}
		rhs, rhsErr := strconv.Atoi(expected)
		if rhsErr != nil {
			return false, status.NewCallerError("Invalid integer value: %s", expected)
		}
		switch operation {
		case "eq":
			return lhs == rhs, nil
		case "ne":
			return lhs != rhs, nil
		case "lt":
			return lhs < rhs, nil
		case "le":
			return lhs <= rhs, nil
		case "gt":
			return lhs > rhs, nil
		case "ge":
			return lhs >= rhs, nil
		default:
			return false, status.NewCallerError("Unsupported operation for integer comparison")
		}
	}
}

func auditEnsureShadowContains(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[shadowParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()

	if _, ok := shadowFields[string(p.Field)]; !ok {
		return status.Fail[status.Status](status.NewCallerError("Invalid field name: %s", p.Field))
	}
	switch string(p.Operation) {
	case "eq", "ne", "lt", "le", "gt", "ge", "match":
	default:
		return status.Fail[status.Status](status.NewCallerError("Invalid operation: '%s'", p.Operation))
	}

	shadowPath := ctx.GetSpecialFilePath("/etc/shadow")
	if p.ShadowPath.Set {
		shadowPath = string(p.ShadowPath.Value)
	}
	contents := ctx.GetFileContents(shadowPath)
	if contents.IsErr() {
		return status.Fail[status.Status](contents.Err)
	}
	records := parseShadow(contents.Value)
	pretty := prettyFieldNames[string(p.Field)]

	if p.Username.Set {
		for _, rec := range records {
			if shadowFieldValue(rec, "username") != string(p.Username.Value) {
				continue
			}
			actual := shadowFieldValue(rec, string(p.Field))
			ok, cmpErr := compareShadowValue(string(p.Field), actual, string(p.Value), string(p.Operation))
			if cmpErr != nil {
				return status.Fail[status.Status](cmpErr)
			}
			if !ok {
				return status.Ok(ind.NonCompliant("%s does not match expected value for user '%s'", pretty, p.Username.Value))
			}
			return status.Ok(ind.Compliant("%s matches expected value for user '%s'", pretty, p.Username.Value))
		}
		return status.Fail[status.Status](status.NewCallerError("User '%s' not found in shadow file", p.Username.Value))
	}

	for _, rec := range records {
		actual := shadowFieldValue(rec, string(p.Field))
		ok, cmpErr := compareShadowValue(string(p.Field), actual, string(p.Value), string(p.Operation))
		if cmpErr != nil {
			return status.Fail[status.Status](cmpErr)
		}
		if !ok {
			return status.Ok(ind.NonCompliant("%s does not match expected value for user '%s'", pretty, shadowFieldValue(rec, "username")))
		}
	}
	return status.Ok(ind.Compliant("%s matches expected value for all users", pretty))
}
