package command

import (
	"regexp"
	"strconv"
	"strings"
)

// File is one directory entry as reported by ls -l, grounded on
// original_source's firecrest.filesystem.ops.models.File.
type File struct {
	Name         string
	Type         string
	LinkTarget   string
	User         string
	Group        string
	Permissions  string
	LastModified string
	Size         int64
}

// LsCommand lists a path with `ls -l`, grounded on
// original_source/.../ls_base_command.py (LsBaseCommand/LsCommand).
type LsCommand struct {
	TargetPath  string
	ShowHidden  bool
	NumericUID  bool
	Recursion   bool
	Dereference bool
	NoRecursion bool
}

func (c LsCommand) RenderCommandLine() string {
	var opts strings.Builder
	opts.WriteString("-l --quoting-style=c --time-style='+%Y-%m-%dT%H:%M:%S' ")
	if c.ShowHidden {
		opts.WriteString("-A ")
	}
	if c.NumericUID {
		opts.WriteString("--numeric-uid-gid ")
	}
	if c.NoRecursion {
		opts.WriteString("-d ")
	}
	if c.Recursion {
		opts.WriteString("-R ")
	}
	if c.Dereference {
		opts.WriteString("-L ")
	}
	return "ls " + opts.String() + "-- " + quote(c.TargetPath)
}

var (
	lsSectionHeaderRe = regexp.MustCompile(`(?m)^"(.+)":\n`)
	lsEntryRe         = regexp.MustCompile(
		`^(?P<type>\S)(?P<permissions>\S+)\s+\d+\s+(?P<user>\S+)\s+` +
			`(?P<group>\S+)\s+(?P<size>\d+)\s+(?P<modified>[\d\-T:]+)\s+(?P<filename>.+)$`,
	)
)

// ParseOutput parses `ls -l` output, handling the recursive `"./path":`
// section-header form, C-quoted filenames with `"name" -> "target"` link
// syntax, and single-entry mode (spec.md §4.2 "Directory listing parser").
func (c LsCommand) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapError(stderr, exitStatus)
	}

	var files []File
	if lsSectionHeaderRe.MatchString(stdout) {
		parts := lsSectionHeaderRe.Split(stdout, -1)
		headers := lsSectionHeaderRe.FindAllStringSubmatch(stdout, -1)
		// parts[0] is always empty text before the first header for
		// well-formed recursive ls output; headers[i] pairs with parts[i+1].
		var rootFolder string
		for i, h := range headers {
			folder := strings.TrimRight(h[1], "/")
			if i == 0 {
				rootFolder = folder + "/"
			}
			folderName := strings.TrimPrefix(folder+"/", rootFolder)
			var content string
			if i+1 < len(parts) {
				content = parts[i+1]
			}
			files = append(files, parseLsFolder(content, folderName)...)
		}
	} else {
		files = parseLsFolder(stdout, "")
	}

	if c.NoRecursion {
		if len(files) == 0 {
			return nil, nil
		}
		return files[0], nil
	}
	return files, nil
}

// parseLsFolder parses one section's worth of `ls -l` lines, prefixing
// each entry's name with path.
func parseLsFolder(content, path string) []File {
	var files []File
	for _, line := range strings.Split(content, "\n") {
		m := lsEntryRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx := lsEntryRe.SubexpIndex
		filenameField := m[idx("filename")]

		tokens, ok := splitQuotedCFields(filenameField)
		if !ok {
			continue
		}

		var name, linkTarget string
		switch len(tokens) {
		case 1:
			name = tokens[0]
		case 3:
			// tokens[1] is the literal "->" arrow between quoted names.
			name = tokens[0]
			linkTarget = tokens[2]
		default:
			continue
		}

		size, _ := strconv.ParseInt(m[idx("size")], 10, 64)
		files = append(files, File{
			Name:         path + name,
			Type:         m[idx("type")],
			LinkTarget:   linkTarget,
			User:         m[idx("user")],
			Group:        m[idx("group")],
			Permissions:  m[idx("permissions")],
			LastModified: m[idx("modified")],
			Size:         size,
		})
	}
	return files
}

// splitQuotedCFields splits the `ls --quoting-style=c` filename field,
// which is either a single C-quoted string or `"name" -> "target"`. This
// mirrors shlex.split over the double-quoted tokens the original Python
// relies on, here implemented directly since C-quoting escapes are a
// narrower grammar than general shell quoting.
func splitQuotedCFields(s string) ([]string, bool) {
	var tokens []string
	i := 0
	for i < len(s) {
		switch {
		case s[i] == '"':
			end, val, ok := readCQuoted(s[i:])
			if !ok {
				return nil, false
			}
			tokens = append(tokens, val)
			i += end
		case s[i] == ' ':
			i++
		case strings.HasPrefix(s[i:], "->"):
			tokens = append(tokens, "->")
			i += 2
		default:
			return nil, false
		}
	}
	return tokens, true
}

// readCQuoted reads one C-quoted token starting at s[0] == '"', returning
// the byte length consumed and the unescaped value.
func readCQuoted(s string) (int, string, bool) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		switch s[i] {
		case '"':
			return i + 1, b.String(), true
		case '\\':
			if i+1 >= len(s) {
				return 0, "", false
			}
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			default:
				b.WriteByte(s[i+1])
			}
			i += 2
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return 0, "", false
}
