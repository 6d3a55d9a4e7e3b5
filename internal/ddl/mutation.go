package ddl

import (
	"fmt"
	"strings"
)

// MutationKind tags the statement family of an ALTER mutation.
type MutationKind string

const (
	MutationDelete MutationKind = "DELETE"
	MutationUpdate MutationKind = "UPDATE"
)

// AlterDelete returns ALTER TABLE ... DELETE WHERE cond.
func AlterDelete(ref TableRef, cond string) string {
	return fmt.Sprintf("ALTER TABLE %s DELETE WHERE %s", ref, cond)
}

// AlterUpdate returns ALTER TABLE ... UPDATE set WHERE cond.
func AlterUpdate(ref TableRef, set, cond string) string {
	return fmt.Sprintf("ALTER TABLE %s UPDATE %s WHERE %s", ref, set, cond)
}

// RunningMutations counts mutations of ref that have not finished.
func RunningMutations(ref TableRef) string {
	return fmt.Sprintf("SELECT count() FROM system.mutations WHERE database=%s AND table=%s AND is_done=0",
		QuoteString(ref.Database), QuoteString(ref.Table))
}

// MutationCommand reduces an issued ALTER statement to the text the server keeps in
// system.mutations.command: quotes are escaped, then everything before the first
// case-insensitive occurrence of kind is cut. For "ALTER TABLE <ref> ..." the
// search starts after the table reference, so database or table names that
// contain the kind (updates_log, deleted) do not move the cut. When kind does not
// occur at all the escaped statement is returned whole, which will not match any
// registry row.
func MutationCommand(kind MutationKind, statement string) string {
	cmd := strings.ReplaceAll(statement, "'", `\'`)
	upper := strings.ToUpper(cmd)

	const alter = "ALTER TABLE "
	start := 0
	if strings.HasPrefix(upper, alter) {
		if sp := strings.IndexByte(upper[len(alter):], ' '); sp >= 0 {
			start = len(alter) + sp
		}
	}
	if i := strings.Index(upper[start:], string(kind)); i >= 0 && start+i > 0 {
		cmd = cmd[start+i:]
	}
	return cmd
}

// LastMutationID looks up the newest mutation of ref whose command equals the
// already escaped command text.
func LastMutationID(ref TableRef, escapedCommand string) string {
	return fmt.Sprintf("SELECT mutation_id FROM system.mutations WHERE database=%s AND table=%s AND command='%s' ORDER BY create_time DESC",
		QuoteString(ref.Database), QuoteString(ref.Table), escapedCommand)
}

// MutationDone reads the completion flag of one mutation.
func MutationDone(mutationID string) string {
	return "SELECT is_done FROM system.mutations WHERE mutation_id=" + QuoteString(mutationID)
}

// ListMutations returns every registry row of ref, newest first.
func ListMutations(ref TableRef) string {
	return fmt.Sprintf("SELECT mutation_id, database, table, command, create_time, is_done FROM system.mutations WHERE database=%s AND table=%s ORDER BY create_time DESC",
		QuoteString(ref.Database), QuoteString(ref.Table))
}
