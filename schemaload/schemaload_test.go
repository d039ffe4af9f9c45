package schemaload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orf/locksmith"
	"github.com/orf/locksmith/testhelper"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	scripts []string
	copies  []Step
	err     error
}

func (e *recordingExecer) CopyFrom(_ context.Context, r io.Reader, sql string) (pgconn.CommandTag, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return pgconn.CommandTag{}, err
	}

	e.copies = append(e.copies, Step{SQL: sql, Copy: true, Data: data})

	return pgconn.NewCommandTag("COPY 2"), e.err
}

func (e *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	e.scripts = append(e.scripts, sql)
	return pgconn.CommandTag{}, e.err
}

type recordingRestorer struct {
	archives [][]byte
	err      error
}

func (r *recordingRestorer) Restore(_ context.Context, archive []byte) error {
	r.archives = append(r.archives, archive)
	return r.err
}

func newLoader(restorer Restorer) *Loader {
	return New(restorer, slog.New(slog.DiscardHandler))
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		want Format
	}{
		{name: "plain", src: []byte("create table t (id int);"), want: FormatPlain},
		{name: "empty", src: nil, want: FormatPlain},
		{name: "archive", src: []byte("PGDMP\x01\x0f\x00\x04\x08\x01\x01"), want: FormatArchive},
		{name: "truncated magic", src: []byte("PGDM"), want: FormatPlain},
		{name: "lowercase magic", src: []byte("pgdmp"), want: FormatPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.src))
		})
	}
}

func TestLoadPlain(t *testing.T) {
	conn := &recordingExecer{}
	restorer := &recordingRestorer{}

	src := testhelper.TrimIndent(t, `
		create table customers (id serial primary key);
		create table orders (id serial primary key);
	`)

	err := newLoader(restorer).Load(t.Context(), conn, []byte(src))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(conn.scripts))
	assert.Contains(t, conn.scripts[0], "create table orders")
	assert.Equal(t, 0, len(restorer.archives))
}

func TestLoadPlainSkipsMetaCommands(t *testing.T) {
	conn := &recordingExecer{}

	src := testhelper.TrimIndent(t, `
		\restrict abc123
		SELECT pg_catalog.set_config('search_path', '', false);
		CREATE TABLE public.customers (id integer);
		\unrestrict abc123
	`)

	err := newLoader(nil).Load(t.Context(), conn, []byte(src))
	assert.NoError(t, err)
	assert.NotContains(t, conn.scripts[0], `\restrict`)
	assert.NotContains(t, conn.scripts[0], `\unrestrict`)
	assert.Contains(t, conn.scripts[0], "CREATE TABLE public.customers")
}

func TestPlainScriptKeepsQuotedBackslashLines(t *testing.T) {
	src := "create function f() returns text language sql as $$\n" +
		"select 'line1\n" +
		`\x41'` + "\n" +
		"$$;\n" +
		"create table t (v text default E'a\\\n" +
		`\b');` + "\n" +
		"create table \"odd\n" +
		`\name" (id int);` + "\n"

	steps, err := PlainScript([]byte(src))
	assert.NoError(t, err)
	assert.Equal(t, []Step{{SQL: src}}, steps)
}

func TestPlainScriptCopyBlock(t *testing.T) {
	src := "create table t (id int, path text);\n" +
		"-- Data for Name: t\n" +
		"COPY public.t (id, path) FROM stdin;\n" +
		"1\t" + `\N` + "\n" +
		"2\t" + `\\\\server\\share` + "\n" +
		`\.` + "\n" +
		"create index t_path_idx on t (path);\n"

	steps, err := PlainScript([]byte(src))
	assert.NoError(t, err)
	assert.Equal(t, []Step{
		{SQL: "create table t (id int, path text);\n-- Data for Name: t\n"},
		{
			SQL:  "COPY public.t (id, path) FROM stdin;",
			Copy: true,
			Data: []byte("1\t" + `\N` + "\n" + "2\t" + `\\\\server\\share` + "\n"),
		},
		{SQL: "create index t_path_idx on t (path);\n"},
	}, steps)
}

func TestPlainScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  error
	}{
		{name: "meta command", src: "\\set ON_ERROR_STOP on\ncreate table t ();\n", err: ErrMetaCommand},
		{name: "meta command after statement", src: "create table t ();\n\\i other.sql\n", err: ErrMetaCommand},
		{name: "unterminated copy", src: "COPY t (id) FROM stdin;\n1\n2\n", err: ErrUnterminatedCopy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PlainScript([]byte(tt.src))
			assert.IsError(t, err, tt.err)
		})
	}
}

func TestLoadPlainCopy(t *testing.T) {
	conn := &recordingExecer{}

	src := "create table t (id int);\nCOPY t (id) FROM stdin;\n1\n2\n\\.\n"

	err := newLoader(nil).Load(t.Context(), conn, []byte(src))
	assert.NoError(t, err)
	assert.Equal(t, []string{"create table t (id int);\n"}, conn.scripts)
	assert.Equal(t, []Step{{SQL: "COPY t (id) FROM stdin;", Copy: true, Data: []byte("1\n2\n")}}, conn.copies)
}

func TestLoadRejectsMetaCommand(t *testing.T) {
	conn := &recordingExecer{}

	err := newLoader(nil).Load(t.Context(), conn, []byte("\\set ON_ERROR_STOP on\n"))
	assert.IsError(t, err, locksmith.ErrSchemaLoad)
	assert.IsError(t, err, ErrMetaCommand)
	assert.Equal(t, 0, len(conn.scripts))
}

func TestLoadPlainIntoPostgres(t *testing.T) {
	conn := testhelper.Connect(t, testhelper.StartPostgres(t))

	src := "create function f() returns text language sql as $$\n" +
		"select 'line1\n" +
		`\x41'` + "\n" +
		"$$;\n" +
		"create table t (id int, path text);\n" +
		"COPY t (id, path) FROM stdin;\n" +
		"1\t" + `\N` + "\n" +
		"2\t" + `\\\\server\\share` + "\n" +
		`\.` + "\n"

	err := newLoader(nil).Load(t.Context(), conn, []byte(src))
	require.NoError(t, err)

	var body string
	require.NoError(t, conn.QueryRow(t.Context(), "select f()").Scan(&body))
	assert.Equal(t, "line1\n"+`\x41`, body)

	var nulls int
	require.NoError(t, conn.QueryRow(t.Context(), "select count(*) from t where path is null").Scan(&nulls))
	assert.Equal(t, 1, nulls)

	var path string
	require.NoError(t, conn.QueryRow(t.Context(), "select path from t where id = 2").Scan(&path))
	assert.Equal(t, `\\server\share`, path)
}

func TestLoadEmptyPlainIsNoop(t *testing.T) {
	conn := &recordingExecer{}

	err := newLoader(nil).Load(t.Context(), conn, []byte("  \n"))
	assert.NoError(t, err)
	assert.Equal(t, 0, len(conn.scripts))
}

func TestLoadPlainFailure(t *testing.T) {
	conn := &recordingExecer{err: &pgconn.PgError{Code: "42601", Message: "syntax error at or near \"tabel\""}}

	err := newLoader(nil).Load(t.Context(), conn, []byte("create tabel t ();"))
	assert.IsError(t, err, locksmith.ErrSchemaLoad)
	assert.Equal(t, locksmith.ErrorKindSchemaLoad, locksmith.KindOf(err))
}

func TestLoadRejectsInvalidUTF8(t *testing.T) {
	conn := &recordingExecer{}

	err := newLoader(nil).Load(t.Context(), conn, []byte{'c', 0xff, 0xfe})
	assert.IsError(t, err, locksmith.ErrSchemaLoad)
	assert.IsError(t, err, ErrNotUTF8)
	assert.Equal(t, 0, len(conn.scripts))
}

func TestLoadArchive(t *testing.T) {
	conn := &recordingExecer{}
	restorer := &recordingRestorer{}
	archive := []byte("PGDMP\x01\x0f\x00")

	err := newLoader(restorer).Load(t.Context(), conn, archive)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{archive}, restorer.archives)
	assert.Equal(t, 0, len(conn.scripts))
}

func TestLoadArchiveWithoutRestorer(t *testing.T) {
	err := newLoader(nil).Load(t.Context(), &recordingExecer{}, []byte("PGDMP"))
	assert.IsError(t, err, locksmith.ErrSchemaLoad)
	assert.IsError(t, err, ErrNoRestorer)
}

func TestLoadArchiveFailure(t *testing.T) {
	restorer := &recordingRestorer{err: errors.New("pg_restore: error: could not execute query")}

	err := newLoader(restorer).Load(t.Context(), &recordingExecer{}, []byte("PGDMP"))
	assert.IsError(t, err, locksmith.ErrSchemaLoad)
}

func TestCommandRestorerReportsStderr(t *testing.T) {
	restorer := &CommandRestorer{Command: "sh", DSN: "postgres://unused"}

	// sh rejects the pg_restore flags, which is enough to exercise error reporting.
	err := restorer.Restore(t.Context(), []byte("PGDMP"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sh:")
}
