package command

import (
	"fmt"
	"path"
)

// TarOperation selects TarCommand's direction, grounded on
// original_source's TarCommand.Operation enum.
type TarOperation string

const (
	TarCompress TarOperation = "compress"
	TarExtract  TarOperation = "extract"
)

// TarCommand compresses or extracts a tar.gz archive. Grounded on
// original_source/.../tar_command.py for the plain compress/extract forms;
// the regex match-pattern pipeline is built directly from spec.md §4.2
// ("find ... -print0 | tar --null --files-from - inside bash -c, cd-ing
// into the source directory"), since the retrieved tar_command.py revision
// only supports an unconditional whole-directory `tar -czvf`/`tar -xzf`
// form and does not itself carry a match_pattern code path — that option
// is referenced from the FastAPI router's request model but its command
// construction was not present in this retrieval pack.
type TarCommand struct {
	SourcePath  string
	TargetPath  string
	Dereference bool
	MatchPattern string
	Operation   TarOperation
}

func (c TarCommand) RenderCommandLine() string {
	switch c.Operation {
	case TarExtract:
		return c.renderExtract()
	default:
		return c.renderCompress()
	}
}

func (c TarCommand) renderCompress() string {
	options := ""
	if c.Dereference {
		options = "--dereference "
	}

	if c.MatchPattern == "" {
		sourceDir := path.Dir(c.SourcePath)
		sourceFile := path.Base(c.SourcePath)
		return withTimeout(fmt.Sprintf("tar %s-czvf %s -C %s %s",
			options, quote(c.TargetPath), quote(sourceDir), quote(sourceFile)))
	}

	// cd into the source directory so recorded archive member names are
	// relative, then stream null-delimited matching names from find into
	// tar's --files-from, avoiding argv-length limits and embedded-newline
	// filename ambiguity that a plain `tar $(find ...)` would hit.
	findPipeline := fmt.Sprintf(
		"cd %s && find . -regextype posix-extended -regex %s -print0 | tar %s--null --files-from - -czvf %s",
		quote(c.SourcePath), quote(c.MatchPattern), options, quote(c.TargetPath),
	)
	return withTimeout(fmt.Sprintf("bash -c %s", quote(findPipeline)))
}

func (c TarCommand) renderExtract() string {
	return withTimeout(fmt.Sprintf("tar -xzf %s -C %s", quote(c.SourcePath), quote(c.TargetPath)))
}

func (c TarCommand) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapError(stderr, exitStatus)
	}
	return stdout, nil
}
