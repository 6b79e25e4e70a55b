// Package template renders a directory tree of Jinja-syntax templates
// into the output root, preserving relative layout, file modes and
// ownership.
package template

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/flosch/pongo2/v6"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

func init() {
	// Config files, not HTML.
	pongo2.SetAutoescape(false)
}

// fatalError carries a fatal_error() call out of a render.
type fatalError string

// execute renders tpl, converting a template-raised fatal_error into a
// regular error.
func execute(tpl *pongo2.Template, ctx pongo2.Context) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(fatalError)
			if !ok {
				panic(r)
			}
			err = errors.Errorf("fatal error raised in template: %s", string(fe))
		}
	}()

	return tpl.ExecuteBytes(ctx)
}

// newSet builds the template set. Templates can include from both the
// template root and the jinja utility root.
func newSet(templateRoot, jinjaRoot string) (*pongo2.TemplateSet, error) {
	loaders := []pongo2.TemplateLoader{}

	rootLoader, err := pongo2.NewLocalFileSystemLoader(templateRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "opening template root %s", templateRoot)
	}
	loaders = append(loaders, rootLoader)

	if jinjaRoot != "" {
		if _, err := os.Stat(jinjaRoot); err == nil {
			jinjaLoader, err := pongo2.NewLocalFileSystemLoader(jinjaRoot)
			if err != nil {
				return nil, errors.Wrapf(err, "opening jinja root %s", jinjaRoot)
			}
			loaders = append(loaders, jinjaLoader)
		}
	}

	return pongo2.NewSet("entrypoint", loaders...), nil
}

// RenderString renders a one-off template string, such as an element of
// the command line, against the variable space.
func RenderString(log hclog.Logger, s string, variables map[string]interface{}) (string, error) {
	tpl, err := pongo2.FromString(s)
	if err != nil {
		return "", errors.Wrapf(err, "parsing template string %q", s)
	}

	out, err := execute(tpl, renderContext(log, variables))
	if err != nil {
		return "", errors.Wrapf(err, "rendering template string %q", s)
	}

	return string(out), nil
}

// Process walks every regular file under templateRoot, renders it
// against the variable space and places the result at the same
// relative path under outputRoot. Existing destinations are left
// alone. Missing destination directories are created with mode and
// ownership copied from the source directory; rendered files copy mode
// and ownership from the source file. The first render failure aborts
// the walk.
func Process(log hclog.Logger, variables map[string]interface{}, outputRoot, templateRoot, jinjaRoot string) error {
	if _, err := os.Stat(templateRoot); err != nil {
		if os.IsNotExist(err) {
			log.Debug("no template root, nothing to render", "path", templateRoot)
			return nil
		}
		return errors.Wrapf(err, "opening template root %s", templateRoot)
	}

	set, err := newSet(templateRoot, jinjaRoot)
	if err != nil {
		return err
	}

	ctx := renderContext(log, variables)

	return filepath.WalkDir(templateRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(templateRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		out := filepath.Join(outputRoot, rel)

		if d.IsDir() {
			return makeOutputDir(log, out, path)
		}

		if !d.Type().IsRegular() {
			// Symlinks and special files are not templates.
			log.Debug("skipping non-regular template source", "path", path)
			return nil
		}

		if _, err := os.Lstat(out); err == nil {
			log.Warn("destination exists, not overriding", "path", out)
			return nil
		}

		tpl, err := set.FromFile(rel)
		if err != nil {
			return errors.Wrapf(err, "parsing template %s", path)
		}

		rendered, err := execute(tpl, ctx)
		if err != nil {
			return errors.Wrapf(err, "rendering template %s", path)
		}

		log.Debug("rendered template", "source", path, "destination", out)

		if err := os.WriteFile(out, rendered, 0644); err != nil {
			return errors.Wrapf(err, "writing %s", out)
		}

		return copyModeOwner(path, out)
	})
}

// makeOutputDir creates the destination directory if missing, copying
// mode and ownership from the source directory.
func makeOutputDir(log hclog.Logger, out, src string) error {
	if _, err := os.Lstat(out); err == nil {
		return nil
	}

	fi, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "inspecting template directory %s", src)
	}

	if err := os.Mkdir(out, fi.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "creating output directory %s", out)
	}

	log.Debug("created output directory", "path", out)

	return copyModeOwner(src, out)
}

// copyModeOwner mirrors the permissions, user and group of src on dst.
func copyModeOwner(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "inspecting %s", src)
	}

	if err := os.Chmod(dst, fi.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "copying mode to %s", dst)
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		if err := os.Chown(dst, int(st.Uid), int(st.Gid)); err != nil {
			return errors.Wrapf(err, "copying ownership to %s", dst)
		}
	}

	return nil
}
