package command

import (
	"testing"

	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name       string
		stderr     string
		exitStatus int
		wantKind   ferrors.Kind
	}{
		{"timeout takes priority", "No such file or directory", 124, ferrors.Timeout},
		{"not found", "ls: cannot access 'x': No such file or directory", 1, ferrors.NotFound},
		{"permission denied", "mkdir: Permission denied", 1, ferrors.Forbidden},
		{"operation not permitted", "chown: Operation not permitted", 1, ferrors.Forbidden},
		{"conflict", "mkdir: cannot create directory: File exists", 1, ferrors.Conflict},
		{"bad request", "ssh: invalid user", 1, ferrors.BadRequest},
		{"fallback internal", "some other failure", 2, ferrors.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapError(tc.stderr, tc.exitStatus)
			assert.True(t, ferrors.Is(err, tc.wantKind))
		})
	}
}

func TestLsCommand_RenderCommandLine(t *testing.T) {
	cmd := LsCommand{TargetPath: "/home/user/data", Recursion: true, ShowHidden: true}
	got := cmd.RenderCommandLine()
	assert.Contains(t, got, "-R ")
	assert.Contains(t, got, "-A ")
	assert.Contains(t, got, "-- '/home/user/data'")
}

func TestLsCommand_ParseOutput_SingleEntry(t *testing.T) {
	cmd := LsCommand{TargetPath: "/home/user/file.txt", NoRecursion: true}
	stdout := `-rw-rw-r-- 1 someone somegroup 1024 2023-07-24T11:45:35 "file.txt"` + "\n"

	out, err := cmd.ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	f, ok := out.(File)
	require.True(t, ok)
	assert.Equal(t, "file.txt", f.Name)
	assert.Equal(t, int64(1024), f.Size)
	assert.Empty(t, f.LinkTarget)
}

func TestLsCommand_ParseOutput_Link(t *testing.T) {
	cmd := LsCommand{TargetPath: "/home/user", NoRecursion: true}
	stdout := `lrwxrwxrwx 1 someone somegroup 46 2023-07-25T14:18:00 "filename" -> "target link"` + "\n"

	out, err := cmd.ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	f, ok := out.(File)
	require.True(t, ok)
	assert.Equal(t, "filename", f.Name)
	assert.Equal(t, "target link", f.LinkTarget)
}

func TestLsCommand_ParseOutput_Recursive(t *testing.T) {
	cmd := LsCommand{TargetPath: "/home/user", Recursion: true}
	stdout := `".":
total 8
drwxrwxr-x 3 someone somegroup 4096 2023-07-24T11:45:35 "folder"
"./folder":
total 1
-rw-rw-r-- 1 someone somegroup 0 2023-07-24T11:45:35 "file_in_folder.txt"
`

	out, err := cmd.ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	files, ok := out.([]File)
	require.True(t, ok)
	require.Len(t, files, 2)
	assert.Equal(t, "folder", files[0].Name)
	assert.Equal(t, "folder/file_in_folder.txt", files[1].Name)
}

func TestLsCommand_ParseOutput_Error(t *testing.T) {
	cmd := LsCommand{TargetPath: "/missing", NoRecursion: true}
	_, err := cmd.ParseOutput("", "ls: cannot access '/missing': No such file or directory", 2)
	assert.True(t, ferrors.Is(err, ferrors.NotFound))
}

func TestTarCommand_Compress_NoPattern(t *testing.T) {
	cmd := TarCommand{SourcePath: "/data/set/file.txt", TargetPath: "/data/out.tar.gz", Operation: TarCompress}
	got := cmd.RenderCommandLine()
	assert.Contains(t, got, "-C '/data/set'")
	assert.Contains(t, got, "'file.txt'")
	assert.Contains(t, got, "-czvf '/data/out.tar.gz'")
}

func TestTarCommand_Compress_WithMatchPattern(t *testing.T) {
	cmd := TarCommand{
		SourcePath:   "/data/set",
		TargetPath:   "/data/out.tar.gz",
		MatchPattern: "./[ab].*\\.txt",
		Operation:    TarCompress,
	}
	got := cmd.RenderCommandLine()
	assert.Contains(t, got, "bash -c")
	assert.Contains(t, got, "find . -regextype posix-extended -regex")
	assert.Contains(t, got, "--null --files-from -")
	assert.Contains(t, got, `cd '\''/data/set'\''`)
}

func TestTarCommand_Extract(t *testing.T) {
	cmd := TarCommand{SourcePath: "/data/out.tar.gz", TargetPath: "/data/dest", Operation: TarExtract}
	got := cmd.RenderCommandLine()
	assert.Contains(t, got, "-xzf '/data/out.tar.gz'")
	assert.Contains(t, got, "-C '/data/dest'")
}

func TestStatCommand_ParseOutput(t *testing.T) {
	cmd := StatCommand{TargetPath: "/data/file"}
	stdout := "81a4 64317775 50 1 26191 1000 8 1689669477 1685517840 1685517840\n"
	out, err := cmd.ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	res, ok := out.(StatResult)
	require.True(t, ok)
	assert.Equal(t, int64(0x81a4), res.Mode)
	assert.Equal(t, int64(8), res.Size)
}

func TestChecksumCommand_ParseOutput(t *testing.T) {
	cmd := ChecksumCommand{TargetPath: "/data/file", Algorithm: SHA256}
	stdout := "e5b00209ffdf76f4db2895a419bd49cbfdf9350eb9546b73019413a41acd945  test.dat\n"
	out, err := cmd.ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	res, ok := out.(ChecksumResult)
	require.True(t, ok)
	assert.Equal(t, SHA256, res.Algorithm)
	assert.Equal(t, "e5b00209ffdf76f4db2895a419bd49cbfdf9350eb9546b73019413a41acd945", res.Checksum)
}

func TestHeadCommand_RenderCommandLine(t *testing.T) {
	cmd := HeadCommand{TargetPath: "/data/file", Lines: "10", SkipTrailing: true}
	got := cmd.RenderCommandLine()
	assert.Contains(t, got, "--lines='-10'")
}

func TestQuote_EmbeddedSingleQuote(t *testing.T) {
	got := quote("it's a path")
	assert.Equal(t, `'it'\''s a path'`, got)
}
