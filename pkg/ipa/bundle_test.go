package ipa

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"howett.net/plist"
)

func writeZipEntry(t *testing.T, zw *zip.Writer, name string, content []byte) {
	t.Helper()
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("create zip entry %s: %v", name, err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("write zip entry %s: %v", name, err)
	}
}

func buildTestIPA(t *testing.T, path string) {
	t.Helper()

	infoPlist, err := plist.MarshalIndent(map[string]any{
		"CFBundleExecutable": "TestApp",
		"CFBundleIdentifier": "com.example.old",
	}, plist.XMLFormat, "\t")
	if err != nil {
		t.Fatalf("marshal Info.plist: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create ipa: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	writeZipEntry(t, zw, "Payload/TestApp.app/Info.plist", infoPlist)
	writeZipEntry(t, zw, "Payload/TestApp.app/TestApp", []byte("\xcf\xfa\xed\xfe fake macho bytes"))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
}

func TestExpandLocatesAppBundle(t *testing.T) {
	dir := t.TempDir()
	ipaPath := filepath.Join(dir, "test.ipa")
	buildTestIPA(t, ipaPath)

	destDir := filepath.Join(dir, "expanded")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	a, err := Expand(ipaPath, destDir)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	wantApp := filepath.Join(destDir, "Payload", "TestApp.app")
	if a.AppPath != wantApp {
		t.Errorf("AppPath = %q, want %q", a.AppPath, wantApp)
	}
}

func TestExpandRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	ipaPath := filepath.Join(dir, "evil.ipa")

	f, err := os.Create(ipaPath)
	if err != nil {
		t.Fatalf("create ipa: %v", err)
	}
	zw := zip.NewWriter(f)
	writeZipEntry(t, zw, "../../etc/passwd", []byte("pwned"))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	f.Close()

	destDir := filepath.Join(dir, "expanded")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := Expand(ipaPath, destDir); err == nil {
		t.Fatal("expected Expand to reject a zip entry that escapes destDir")
	}
}

func TestMainExecutableAndExecutables(t *testing.T) {
	dir := t.TempDir()
	ipaPath := filepath.Join(dir, "test.ipa")
	buildTestIPA(t, ipaPath)

	destDir := filepath.Join(dir, "expanded")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a, err := Expand(ipaPath, destDir)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	exe, err := a.MainExecutable()
	if err != nil {
		t.Fatalf("MainExecutable: %v", err)
	}
	wantExe := filepath.Join(a.AppPath, "TestApp")
	if exe != wantExe {
		t.Errorf("MainExecutable() = %q, want %q", exe, wantExe)
	}

	execs, err := a.Executables(nil)
	if err != nil {
		t.Fatalf("Executables: %v", err)
	}
	if len(execs) != 1 || execs[0] != wantExe {
		t.Errorf("Executables() = %v, want [%s]", execs, wantExe)
	}
}

func TestRewriteBundleIdentifierUpdatesMainPlist(t *testing.T) {
	dir := t.TempDir()
	ipaPath := filepath.Join(dir, "test.ipa")
	buildTestIPA(t, ipaPath)

	destDir := filepath.Join(dir, "expanded")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a, err := Expand(ipaPath, destDir)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if err := RewriteBundleIdentifier(a.AppPath, "com.example.new", nil); err != nil {
		t.Fatalf("RewriteBundleIdentifier: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(a.AppPath, "Info.plist"))
	if err != nil {
		t.Fatalf("read Info.plist: %v", err)
	}
	var doc map[string]any
	if _, err := plist.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode Info.plist: %v", err)
	}
	if got := doc["CFBundleIdentifier"]; got != "com.example.new" {
		t.Errorf("CFBundleIdentifier = %v, want com.example.new", got)
	}
}

func TestRebuildRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ipaPath := filepath.Join(dir, "test.ipa")
	buildTestIPA(t, ipaPath)

	destDir := filepath.Join(dir, "expanded")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a, err := Expand(ipaPath, destDir)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	outPath := filepath.Join(dir, "rebuilt.ipa")
	if err := a.Rebuild(outPath); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	r, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("open rebuilt ipa: %v", err)
	}
	defer r.Close()

	var foundExecutable bool
	for _, f := range r.File {
		if f.Name == "Payload/TestApp.app/TestApp" {
			foundExecutable = true
		}
	}
	if !foundExecutable {
		t.Error("rebuilt ipa missing the main executable entry")
	}
}

func TestRemoveExistingSignature(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "TestApp.app")
	if err := os.MkdirAll(filepath.Join(appPath, "_CodeSignature"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(appPath, "_CodeSignature", "CodeResources"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(appPath, "embedded.mobileprovision"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := &Archive{AppPath: appPath}
	if err := a.RemoveExistingSignature(); err != nil {
		t.Fatalf("RemoveExistingSignature: %v", err)
	}

	if _, err := os.Stat(filepath.Join(appPath, "_CodeSignature")); !os.IsNotExist(err) {
		t.Error("expected _CodeSignature to be removed")
	}
	if _, err := os.Stat(filepath.Join(appPath, "embedded.mobileprovision")); !os.IsNotExist(err) {
		t.Error("expected embedded.mobileprovision to be removed")
	}
}
