package procscan

import (
	"errors"
	"os"
	"path"
	"sort"
	"strconv"
	"testing"

	"github.com/spf13/afero"
)

type fakeProc struct {
	pid     int
	cmdline string
}

func newProcTree(t *testing.T, procs ...fakeProc) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/proc", 0o555); err != nil {
		t.Fatal(err)
	}
	for _, p := range procs {
		dir := path.Join("/proc", strconv.Itoa(p.pid))
		if err := fs.MkdirAll(dir, 0o555); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fs, path.Join(dir, "cmdline"), []byte(p.cmdline), 0o444); err != nil {
			t.Fatal(err)
		}
	}
	// Non-process entries found in a real procfs.
	for _, name := range []string{"self", "sys", "1a", "-1"} {
		if err := fs.MkdirAll(path.Join("/proc", name), 0o555); err != nil {
			t.Fatal(err)
		}
	}
	if err := afero.WriteFile(fs, "/proc/uptime", []byte("1.0 1.0\n"), 0o444); err != nil {
		t.Fatal(err)
	}
	return fs
}

func mustMatcher(t *testing.T, name string, index int, pattern string) *Matcher {
	t.Helper()
	m, err := NewMatcher(name, index, pattern)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func TestProcFSPIDsSkipsNonNumericEntries(t *testing.T) {
	fs := newProcTree(t,
		fakeProc{1, "init\x00"},
		fakeProc{42, "httpd\x00"},
	)
	pids, err := NewProcFS(fs).PIDs()
	if err != nil {
		t.Fatalf("PIDs: %v", err)
	}
	sort.Ints(pids)
	if len(pids) != 2 || pids[0] != 1 || pids[1] != 42 {
		t.Fatalf("PIDs = %v, want [1 42]", pids)
	}
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"1", 1, true},
		{"4194304", 4194304, true},
		{"2147483647", 2147483647, true},
		{"2147483648", 0, false},
		{"9999999999", 0, false},
		{"00012", 12, true},
		{"", 0, false},
		{"+1", 0, false},
		{"12a", 0, false},
		{"self", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePID(tt.name)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parsePID(%q) = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestProcFSCmdlineReadLimit(t *testing.T) {
	fs := newProcTree(t, fakeProc{7, "perl\x00/opt/ArchiveDaemon.pl\x00"})
	src := NewProcFS(fs, WithReadLimit(8))

	buf, err := src.Cmdline(7)
	if err != nil {
		t.Fatalf("Cmdline: %v", err)
	}
	if string(buf) != "perl\x00/op" {
		t.Fatalf("Cmdline = %q", buf)
	}

	// The cut-off argument survives as a partial last token.
	argv := Tokenize(buf, MaxTokens)
	if len(argv) != 2 || argv[1] != "/op" {
		t.Fatalf("Tokenize = %q", argv)
	}
	if !mustMatcher(t, "perl", 2, "^/op$").Match(buf) {
		t.Fatal("partial token should match its own prefix")
	}
	if mustMatcher(t, "perl", 2, `ArchiveDaemon\.pl$`).Match(buf) {
		t.Fatal("text past the read limit must not match")
	}
}

func TestProcFSCmdlineEmptyAndMissing(t *testing.T) {
	fs := newProcTree(t, fakeProc{2, ""})
	src := NewProcFS(fs)

	if _, err := src.Cmdline(2); !errors.Is(err, ErrEmptyCmdline) {
		t.Fatalf("empty record err = %v, want ErrEmptyCmdline", err)
	}
	if _, err := src.Cmdline(999); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing record err = %v, want ErrNotExist", err)
	}
}

func TestScanNameOnlyCountsExactFirstToken(t *testing.T) {
	fs := newProcTree(t,
		fakeProc{100, "httpd\x00-DFOREGROUND\x00"},
		fakeProc{101, "httpd\x00"},
		fakeProc{102, "httpd-worker\x00"},
		fakeProc{2, ""},
	)
	s := NewScanner(NewProcFS(fs), nil)

	res, err := s.Scan(mustMatcher(t, "httpd", 0, ""))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("Count = %d, want 2", res.Count)
	}
	if res.LastPID != 100 && res.LastPID != 101 {
		t.Fatalf("LastPID = %d, want one of the matches", res.LastPID)
	}
}

func TestScanQualifiedSingleMatch(t *testing.T) {
	fs := newProcTree(t,
		fakeProc{300, "perl\x00/opt/ArchiveDaemon.pl\x00--foo\x00"},
		fakeProc{301, "perl\x00/opt/other.pl\x00"},
		fakeProc{302, "perl\x00"},
	)
	s := NewScanner(NewProcFS(fs), nil)

	res, err := s.Scan(mustMatcher(t, "perl", 2, `ArchiveDaemon\.pl$`))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res != (Result{Count: 1, LastPID: 300}) {
		t.Fatalf("Result = %+v, want {1 300}", res)
	}
}

func TestScanNoMatch(t *testing.T) {
	fs := newProcTree(t, fakeProc{1, "init\x00"})
	res, err := NewScanner(NewProcFS(fs), nil).Scan(mustMatcher(t, "httpd", 0, ""))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res != (Result{Count: 0, LastPID: NoPID}) {
		t.Fatalf("Result = %+v, want {0 -1}", res)
	}
}

func TestScanMissingRootIsAccessError(t *testing.T) {
	src := NewProcFS(afero.NewMemMapFs(), WithRoot("/nope"))
	res, err := NewScanner(src, nil).Scan(mustMatcher(t, "httpd", 0, ""))

	var sae *ScanAccessError
	if !errors.As(err, &sae) {
		t.Fatalf("err = %v, want *ScanAccessError", err)
	}
	if sae.Root != "/nope" {
		t.Fatalf("Root = %q, want /nope", sae.Root)
	}
	if res.LastPID != NoPID || res.Count != 0 {
		t.Fatalf("Result = %+v on failure", res)
	}
}

type failingSource struct{ err error }

func (f failingSource) PIDs() ([]int, error) { return nil, f.err }
func (f failingSource) Cmdline(int) ([]byte, error) { return nil, f.err }

func TestScanWrapsForeignEnumerationErrors(t *testing.T) {
	cause := errors.New("permission denied")
	_, err := NewScanner(failingSource{cause}, nil).Scan(mustMatcher(t, "x", 0, ""))

	var sae *ScanAccessError
	if !errors.As(err, &sae) {
		t.Fatalf("err = %v, want *ScanAccessError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v does not wrap cause", err)
	}
}

func TestScanLastPIDIsLastEnumerated(t *testing.T) {
	src := StaticSource{
		10: {"worker"},
		20: {"worker", "-v"},
		30: {"worker"},
		40: {"other"},
		50: {},
	}
	res, err := NewScanner(src, nil).Scan(mustMatcher(t, "worker", 0, ""))
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{Count: 3, LastPID: 30}) {
		t.Fatalf("Result = %+v, want {3 30}", res)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	fs := newProcTree(t,
		fakeProc{5, "sshd\x00-D\x00"},
		fakeProc{6, "sshd\x00"},
	)
	s := NewScanner(NewProcFS(fs), nil)
	m := mustMatcher(t, "sshd", 2, "^-D$")

	first, err := s.Scan(m)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Scan(m)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("scans differ: %+v vs %+v", first, second)
	}
	if first != (Result{Count: 1, LastPID: 5}) {
		t.Fatalf("Result = %+v, want {1 5}", first)
	}
}

func TestVerifyOnMemFs(t *testing.T) {
	fs := newProcTree(t)
	if err := NewProcFS(fs).Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := NewProcFS(fs, WithRoot("/proc/uptime")).Verify(); err == nil {
		t.Fatal("Verify on a file should fail")
	}
}
