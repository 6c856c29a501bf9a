// Package ipa expands and rebuilds .ipa archives and walks a .app bundle
// to find the executables and nested plists a resign pass needs to touch.
package ipa

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

// Archive is an .ipa expanded onto disk at Root, with AppPath pointing at
// the single top-level .app bundle inside Payload/.
type Archive struct {
	Root    string
	AppPath string
}

// Expand unzips ipaPath into destDir (which must already exist) and locates the
// single Payload/*.app bundle, failing if none or more than one is present.
func Expand(ipaPath, destDir string) (*Archive, error) {
	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		return nil, fmt.Errorf("open ipa: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return nil, fmt.Errorf("ipa entry escapes destination: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		if err := extractFile(f, target); err != nil {
			return nil, err
		}
	}

	payload := filepath.Join(destDir, "Payload")
	entries, err := os.ReadDir(payload)
	if err != nil {
		return nil, fmt.Errorf("ipa: no Payload directory: %w", err)
	}
	var appName string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".app") {
			if appName != "" {
				return nil, fmt.Errorf("ipa: multiple .app bundles in Payload")
			}
			appName = e.Name()
		}
	}
	if appName == "" {
		return nil, fmt.Errorf("ipa: no .app bundle in Payload")
	}

	return &Archive{Root: destDir, AppPath: filepath.Join(payload, appName)}, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// Rebuild re-zips a.Root into outPath, preserving relative paths.
func (a *Archive) Rebuild(outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	return filepath.WalkDir(a.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.Root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}

// RemoveExistingSignature deletes _CodeSignature/ and embedded.mobileprovision
// from the app bundle root, matching a fresh re-sign pass.
func (a *Archive) RemoveExistingSignature() error {
	if err := os.RemoveAll(filepath.Join(a.AppPath, "_CodeSignature")); err != nil {
		return err
	}
	prov := filepath.Join(a.AppPath, "embedded.mobileprovision")
	if _, err := os.Stat(prov); err == nil {
		return os.Remove(prov)
	}
	return nil
}

// MainExecutable returns the path to the bundle's main executable, read
// from Info.plist's CFBundleExecutable key.
func (a *Archive) MainExecutable() (string, error) {
	infoPath := filepath.Join(a.AppPath, "Info.plist")
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return "", fmt.Errorf("read Info.plist: %w", err)
	}
	var info map[string]any
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return "", fmt.Errorf("decode Info.plist: %w", err)
	}
	name, _ := info["CFBundleExecutable"].(string)
	if name == "" {
		return "", fmt.Errorf("Info.plist missing CFBundleExecutable")
	}
	return filepath.Join(a.AppPath, name), nil
}

// RewriteBundleIdentifier rewrites CFBundleIdentifier in the main bundle's
// Info.plist, and in every nested Frameworks/*.framework and
// PlugIns/*.appex Info.plist, continuing past any plist that fails to
// parse rather than aborting the whole walk.
func RewriteBundleIdentifier(appPath, newID string, logf func(format string, args ...any)) error {
	if err := rewriteIdentifierInPlist(filepath.Join(appPath, "Info.plist"), newID); err != nil {
		return fmt.Errorf("rewrite main bundle identifier: %w", err)
	}

	for _, sub := range []string{"Frameworks", "PlugIns"} {
		dir := filepath.Join(appPath, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			nested := filepath.Join(dir, e.Name(), "Info.plist")
			if _, err := os.Stat(nested); err != nil {
				continue
			}
			if err := rewriteIdentifierInPlist(nested, newID+"."+strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))); err != nil {
				if logf != nil {
					logf("skipping %s: %v", nested, err)
				}
				continue
			}
		}
	}
	return nil
}

func rewriteIdentifierInPlist(path, id string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]any
	format, err := plist.Unmarshal(data, &doc)
	if err != nil {
		return err
	}
	doc["CFBundleIdentifier"] = id

	out, err := plist.MarshalIndent(doc, format, "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// Executables enumerates the binaries inside the bundle that need
// re-signing: the main executable, then each *.framework binary, *.appex
// executable and *.dylib under Frameworks/ and PlugIns/. An entry whose binary
// can't be located is logged and skipped rather than aborting the whole
// bundle; the binaries are not checked to be Mach-O here.
func (a *Archive) Executables(logf func(format string, args ...any)) ([]string, error) {
	main, err := a.MainExecutable()
	if err != nil {
		return nil, err
	}
	paths := []string{main}

	for _, sub := range []string{"Frameworks", "PlugIns"} {
		dir := filepath.Join(a.AppPath, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			bin, err := frameworkExecutable(dir, e)
			if err != nil {
				if logf != nil {
					logf("skipping %s: %v", e.Name(), err)
				}
				continue
			}
			if bin != "" {
				paths = append(paths, bin)
			}
		}
	}
	return paths, nil
}

func frameworkExecutable(dir string, e fs.DirEntry) (string, error) {
	name := e.Name()
	switch {
	case strings.HasSuffix(name, ".framework") && e.IsDir():
		base := strings.TrimSuffix(name, ".framework")
		bin := filepath.Join(dir, name, base)
		if _, err := os.Stat(bin); err != nil {
			return "", fmt.Errorf("framework binary: %w", err)
		}
		return bin, nil
	case strings.HasSuffix(name, ".appex") && e.IsDir():
		infoPath := filepath.Join(dir, name, "Info.plist")
		data, err := os.ReadFile(infoPath)
		if err != nil {
			return "", fmt.Errorf("read extension Info.plist: %w", err)
		}
		var info map[string]any
		if _, err := plist.Unmarshal(data, &info); err != nil {
			return "", fmt.Errorf("decode extension Info.plist: %w", err)
		}
		exe, _ := info["CFBundleExecutable"].(string)
		if exe == "" {
			return "", fmt.Errorf("extension missing CFBundleExecutable")
		}
		return filepath.Join(dir, name, exe), nil
	case strings.HasSuffix(name, ".dylib"):
		return filepath.Join(dir, name), nil
	default:
		return "", nil
	}
}

