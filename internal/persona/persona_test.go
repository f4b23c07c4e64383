package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func writePersona(t *testing.T, dir, name, content string) {
	t.Helper()
	personaDir := filepath.Join(dir, name)
	if err := os.MkdirAll(personaDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(personaDir, personaFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MissingDirYieldsNoProfilesNoError(t *testing.T) {
	profiles, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for a missing dir, got %v", err)
	}
	if profiles != nil {
		t.Fatalf("expected nil profiles for a missing dir, got %v", profiles)
	}
}

func TestLoad_EmptyDirYieldsNoError(t *testing.T) {
	dir := t.TempDir()
	profiles, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 0 {
		t.Fatalf("expected no profiles, got %v", profiles)
	}
}

func TestLoad_ParsesFrontmatterAndBody(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "alpha", "---\nname: 小艾\ntone: 冷淡\nslangLevel: 0.3\n---\n这是描述正文\n")

	profiles, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	p := profiles[0]
	if p.Name != "小艾" {
		t.Errorf("expected name 小艾, got %q", p.Name)
	}
	if p.Tone != "冷淡" {
		t.Errorf("expected tone 冷淡, got %q", p.Tone)
	}
	if p.SlangLevel != 0.3 {
		t.Errorf("expected slangLevel 0.3, got %v", p.SlangLevel)
	}
	if p.Description == "" {
		t.Error("expected body text to be folded into description")
	}
}

func TestLoad_SortedByDirectoryName(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "zzz", "---\nname: Z\n---\n")
	writePersona(t, dir, "aaa", "---\nname: A\n---\n")

	profiles, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Name != "A" || profiles[1].Name != "Z" {
		t.Fatalf("expected [A, Z] in directory-sorted order, got %v", profiles)
	}
}

func TestLoad_DuplicateNameIsError(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "one", "---\nname: 重名\n---\n")
	writePersona(t, dir, "two", "---\nname: 重名\n---\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected an error for duplicate persona names")
	}
}

func TestLoad_MissingNameIsError(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "bad", "---\ntone: x\n---\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected an error for a persona with no name")
	}
}

func TestLoad_MissingFrontmatterIsError(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "bad", "just plain text, no frontmatter\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected an error for missing YAML frontmatter")
	}
}

func TestFind_EmptyNameReturnsDefault(t *testing.T) {
	got := Find(nil, "")
	if got.Name != Default.Name {
		t.Fatalf("expected Default profile for empty name, got %v", got)
	}
}

func TestFind_UnknownNameReturnsDefault(t *testing.T) {
	profiles := []Profile{{Name: "A"}}
	got := Find(profiles, "nonexistent")
	if got.Name != Default.Name {
		t.Fatalf("expected Default for unknown name, got %v", got)
	}
}

func TestFind_KnownNameReturnsMatch(t *testing.T) {
	profiles := []Profile{{Name: "A", Tone: "x"}, {Name: "B", Tone: "y"}}
	got := Find(profiles, "B")
	if got.Tone != "y" {
		t.Fatalf("expected to find profile B, got %v", got)
	}
}

func TestRegistry_ActiveDefaultsWhenUnset(t *testing.T) {
	r := NewRegistry([]Profile{{Name: "A"}})
	got := r.Active("session1")
	if got.Name != Default.Name {
		t.Fatalf("expected Default for a session with no active profile, got %v", got)
	}
}

func TestRegistry_SetActiveAndRetrieve(t *testing.T) {
	r := NewRegistry([]Profile{{Name: "A"}, {Name: "B"}})

	p, ok := r.SetActive("session1", "B")
	if !ok || p.Name != "B" {
		t.Fatalf("expected SetActive to find B, got ok=%v p=%v", ok, p)
	}
	if got := r.Active("session1"); got.Name != "B" {
		t.Fatalf("expected Active to return B, got %v", got)
	}
}

func TestRegistry_SetActiveUnknownNameFails(t *testing.T) {
	r := NewRegistry([]Profile{{Name: "A"}})
	_, ok := r.SetActive("session1", "nonexistent")
	if ok {
		t.Fatal("expected SetActive to fail for an unknown profile name")
	}
	if got := r.Active("session1"); got.Name != Default.Name {
		t.Fatalf("expected Active to remain Default after failed SetActive, got %v", got)
	}
}
