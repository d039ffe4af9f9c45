package schemaload

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RestoreArgs are the pg_restore flags used for every archive. Ownership and
// grants are skipped because the roles of the source server rarely exist on
// the inspection instance.
var RestoreArgs = []string{"--no-owner", "--no-privileges", "--exit-on-error"}

// CommandRestorer runs a local pg_restore against DSN, feeding the archive
// on standard input.
type CommandRestorer struct {
	// Command is the pg_restore executable. Defaults to "pg_restore".
	Command string
	DSN     string
}

func (r *CommandRestorer) Restore(ctx context.Context, archive []byte) error {
	command := r.Command
	if command == "" {
		command = "pg_restore"
	}

	args := append(append([]string(nil), RestoreArgs...), "--dbname="+r.DSN)

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = bytes.NewReader(archive)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", command, err, msg)
		}

		return fmt.Errorf("%s: %w", command, err)
	}

	return nil
}
