package sharetree

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/amrav/ncdc/internal/tth"
)

func checkInvariants(t *testing.T, n *Node) {
	if n.IsFile {
		return
	}
	seen := map[string]bool{}
	var wantSize uint64
	var wantHasTTH int
	for i, c := range n.Children {
		if seen[c.Name] {
			t.Fatalf("duplicate sibling name %q", c.Name)
		}
		seen[c.Name] = true
		if i > 0 && n.Children[i-1].Name >= c.Name {
			t.Fatalf("children not sorted: %q before %q", n.Children[i-1].Name, c.Name)
		}
		if c.Parent != n {
			t.Fatalf("child %q has wrong parent back-reference", c.Name)
		}
		wantSize += c.Size
		if countsTowardHasTTH(c) {
			wantHasTTH++
		}
		checkInvariants(t, c)
	}
	if n.Size != wantSize {
		t.Fatalf("dir %q size = %d, want %d", n.Name, n.Size, wantSize)
	}
	if n.HasTTHCount != wantHasTTH {
		t.Fatalf("dir %q has_tth = %d, want %d", n.Name, n.HasTTHCount, wantHasTTH)
	}
}

func TestTreeInvariantsUnderRandomMutation(t *testing.T) {
	tr := New("")
	r := rand.New(rand.NewSource(42))
	var files []*Node
	var dirs = []*Node{tr.Root}

	randName := func(prefix string, i int) string {
		return prefix + string(rune('a'+i%26)) + string(rune('0'+(i/26)%10))
	}

	for i := 0; i < 500; i++ {
		op := r.Intn(4)
		switch {
		case op == 0 || len(dirs) == 1:
			parent := dirs[r.Intn(len(dirs))]
			name := randName("d", i)
			if _, exists := ChildByName(parent, name); exists {
				continue
			}
			d := NewDir(name, false)
			if err := tr.Insert(parent, d); err != nil {
				t.Fatalf("Insert dir: %v", err)
			}
			dirs = append(dirs, d)
		case op == 1:
			parent := dirs[r.Intn(len(dirs))]
			name := randName("f", i)
			if _, exists := ChildByName(parent, name); exists {
				continue
			}
			has := r.Intn(2) == 0
			var digest [tth.Size]byte
			r.Read(digest[:])
			f := NewFile(name, uint64(r.Intn(1<<20)), digest, has, 0)
			if err := tr.Insert(parent, f); err != nil {
				t.Fatalf("Insert file: %v", err)
			}
			files = append(files, f)
		case op == 2 && len(files) > 0:
			idx := r.Intn(len(files))
			f := files[idx]
			if err := tr.Remove(f); err != nil {
				t.Fatalf("Remove file: %v", err)
			}
			files = append(files[:idx], files[idx+1:]...)
		default:
			if len(dirs) <= 1 {
				continue
			}
			idx := 1 + r.Intn(len(dirs)-1)
			d := dirs[idx]
			if len(d.Children) != 0 {
				continue // keep the test simple: only remove empty dirs
			}
			if err := tr.Remove(d); err != nil {
				t.Fatalf("Remove dir: %v", err)
			}
			dirs = append(dirs[:idx], dirs[idx+1:]...)
		}
		checkInvariants(t, tr.Root)
	}
}

func TestPathRoundTrip(t *testing.T) {
	tr := New("")
	a := NewDir("music", false)
	if err := tr.Insert(tr.Root, a); err != nil {
		t.Fatal(err)
	}
	b := NewDir("rock", false)
	if err := tr.Insert(a, b); err != nil {
		t.Fatal(err)
	}
	var digest [tth.Size]byte
	f := NewFile("song.mp3", 1024, digest, true, 0)
	if err := tr.Insert(b, f); err != nil {
		t.Fatal(err)
	}

	for _, n := range []*Node{tr.Root, a, b, f} {
		p := Path(n)
		got, err := Resolve(tr.Root, p)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", p, err)
		}
		if got != n {
			t.Fatalf("Resolve(%q) = %v, want %v", p, got, n)
		}
	}
}

func TestResolveRejectsDotDot(t *testing.T) {
	tr := New("")
	if _, err := Resolve(tr.Root, "/a/../b"); err != ErrDotDot {
		t.Fatalf("got %v, want ErrDotDot", err)
	}
}

func TestResolveLeadingSlashEquivalence(t *testing.T) {
	tr := New("")
	d := NewDir("x", false)
	if err := tr.Insert(tr.Root, d); err != nil {
		t.Fatal(err)
	}
	n1, err1 := Resolve(tr.Root, "/x")
	n2, err2 := Resolve(tr.Root, "x")
	if err1 != nil || err2 != nil || n1 != n2 {
		t.Fatalf("expected /x and x to resolve identically: %v %v %v %v", n1, err1, n2, err2)
	}
}

func TestSearchPrunesDirectoryNameMatches(t *testing.T) {
	tr := New("")
	music := NewDir("music", false)
	_ = tr.Insert(tr.Root, music)
	var digest [tth.Size]byte
	song := NewFile("track.mp3", 500, digest, true, 0)
	_ = tr.Insert(music, song)

	results := Search(tr.Root, Query{Include: []string{"music", "track"}, Limit: 10})
	if len(results) != 1 || results[0] != song {
		t.Fatalf("expected to find track.mp3, got %v", results)
	}
}

func TestSearchRespectsHasTTHAndExtension(t *testing.T) {
	tr := New("")
	var digest [tth.Size]byte
	noHash := NewFile("nohash.mp3", 1, digest, false, 0)
	_ = tr.Insert(tr.Root, noHash)
	wrongExt := NewFile("doc.txt", 1, digest, true, 0)
	_ = tr.Insert(tr.Root, wrongExt)
	good := NewFile("song.mp3", 1, digest, true, 0)
	_ = tr.Insert(tr.Root, good)

	results := Search(tr.Root, Query{Extensions: []string{"mp3"}, Limit: 10})
	if len(results) != 1 || results[0] != good {
		t.Fatalf("expected only song.mp3, got %v", results)
	}
}

func TestSearchCapsResults(t *testing.T) {
	tr := New("")
	var digest [tth.Size]byte
	for i := 0; i < 20; i++ {
		f := NewFile(randNameForTest(i), 1, digest, true, 0)
		_ = tr.Insert(tr.Root, f)
	}
	results := Search(tr.Root, Query{Limit: BroadcastResultLimit})
	if len(results) != BroadcastResultLimit {
		t.Fatalf("got %d results, want %d", len(results), BroadcastResultLimit)
	}
}

func randNameForTest(i int) string {
	return "file" + string(rune('a'+i)) + ".bin"
}

func TestFileListSaveLoadRoundTrip(t *testing.T) {
	tr := New("")
	music := NewDir("music", false)
	_ = tr.Insert(tr.Root, music)
	var d1 [tth.Size]byte
	d1[0] = 1
	_ = tr.Insert(music, NewFile("a.mp3", 10, d1, true, 0))
	var d2 [tth.Size]byte
	d2[0] = 2
	_ = tr.Insert(music, NewFile("z.mp3", 20, d2, true, 0))
	docs := NewDir("docs", true)
	_ = tr.Insert(tr.Root, docs)

	dir := t.TempDir()
	for _, c := range []Compression{CompressNone, CompressGzip, CompressBzip2} {
		path := filepath.Join(dir, "list.xml")
		if err := Save(path, tr.Root, "CIDPLACEHOLDER", "/", c); err != nil {
			t.Fatalf("Save(compress=%d): %v", c, err)
		}
		loaded, base, err := Load(path)
		if err != nil {
			t.Fatalf("Load(compress=%d): %v", c, err)
		}
		if base != "/" {
			t.Fatalf("Base = %q, want /", base)
		}
		assertStructurallyEqual(t, tr.Root, loaded)
		_ = os.Remove(path)
	}
}

func TestGraftLoadedAtDeclaredBase(t *testing.T) {
	src := New("")
	var d1 [tth.Size]byte
	d1[0] = 9
	_ = src.Insert(src.Root, NewFile("song.mp3", 10, d1, true, 0))

	dst := New("")
	if err := GraftLoaded(dst, src.Root, "/music/rock"); err != nil {
		t.Fatalf("GraftLoaded: %v", err)
	}
	n, err := Resolve(dst.Root, "/music/rock/song.mp3")
	if err != nil {
		t.Fatalf("Resolve grafted file: %v", err)
	}
	if n.Size != 10 || n.TTH != d1 {
		t.Fatalf("grafted node = %+v, want size 10 digest %v", n, d1)
	}
	if dst.Root.Size != 10 {
		t.Fatalf("dst root rollup = %d, want 10", dst.Root.Size)
	}
}

func TestGraftLoadedAtEmptyBaseGoesToRoot(t *testing.T) {
	src := New("")
	_ = src.Insert(src.Root, NewDir("docs", false))

	dst := New("")
	if err := GraftLoaded(dst, src.Root, ""); err != nil {
		t.Fatalf("GraftLoaded: %v", err)
	}
	if _, ok := ChildByName(dst.Root, "docs"); !ok {
		t.Fatalf("docs not grafted at root")
	}
}

func assertStructurallyEqual(t *testing.T, a, b *Node) {
	t.Helper()
	if a.Name != b.Name || a.IsFile != b.IsFile {
		t.Fatalf("node mismatch: %+v vs %+v", a, b)
	}
	if a.IsFile {
		if a.Size != b.Size || a.TTH != b.TTH {
			t.Fatalf("file mismatch: %+v vs %+v", a, b)
		}
		return
	}
	if len(a.Children) != len(b.Children) {
		t.Fatalf("child count mismatch under %q: %d vs %d", a.Name, len(a.Children), len(b.Children))
	}
	for i := range a.Children {
		assertStructurallyEqual(t, a.Children[i], b.Children[i])
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	cases := []string{
		`<FileListing Version="1"><File Size="1" TTH="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"/></FileListing>`,
		`<FileListing Version="1"><File Name="a" TTH="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"/></FileListing>`,
		`<FileListing Version="1"><File Name="a" Size="x" TTH="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"/></FileListing>`,
		`<FileListing Version="1"><File Name="a" Size="1" TTH="nottth"/></FileListing>`,
		`<FileListing Version="1"><File Name="a" Size="1" TTH="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA">x</File></FileListing>`,
		`<FileListing Version="1">stray</FileListing>`,
	}
	dir := t.TempDir()
	for i, xmlBody := range cases {
		path := filepath.Join(dir, "bad.xml")
		if err := os.WriteFile(path, []byte(xmlBody), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, _, err := Load(path); err == nil {
			t.Fatalf("case %d: expected error, got nil", i)
		}
	}
}
