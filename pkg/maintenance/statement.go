package maintenance

import (
	"fmt"
	"strings"

	"github.com/poolhand/poolhand/pkg/core"
)

// BuildStatement renders the maintenance statement for one action. Every
// identifier is bracket-quoted; a closing bracket inside an identifier is
// doubled per the quoting rules.
func BuildStatement(action core.MaintenanceAction) (string, error) {
	var verb string
	switch action.Action {
	case core.ActionReorganize:
		verb = "REORGANIZE"
	case core.ActionRebuild:
		verb = "REBUILD"
	default:
		return "", core.NewInternalError(
			fmt.Sprintf("no statement for action %q", action.Action), nil).
			WithCode(core.ErrCodeInternal)
	}

	r := action.Record
	if r.Schema == "" || r.Table == "" || r.Index == "" {
		return "", core.NewPreconditionError(
			fmt.Sprintf("incomplete structure name %q", r.Object()), nil).
			WithCode(core.ErrCodeInvalidSpec)
	}

	return fmt.Sprintf("ALTER INDEX %s ON %s.%s %s",
		quoteIdent(r.Index), quoteIdent(r.Schema), quoteIdent(r.Table), verb), nil
}

// quoteIdent bracket-quotes an identifier, escaping closing brackets.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
