package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/setevik/logsentinel/internal/event"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const apacheCSV = `LineId,Time,Level,Content,EventId,EventTemplate
1,Sun Dec 04 04:47:44 2005,notice,workerEnv.init() ok /etc/httpd/conf/workers2.properties,E2,workerEnv.init() ok <*>
2,Sun Dec 04 04:47:44 2005,error,mod_jk child workerEnv in error state 6,E3,mod_jk child workerEnv in error state <*>
3,not a date,notice,jk2_init() Found child 6725 in scoreboard slot 10,E1,jk2_init() Found child <*> in scoreboard slot <*>
4,Sun Dec 04 04:51:08 2005,,missing level,E9,missing level
`

func TestLoadApache(t *testing.T) {
	path := writeFile(t, "apache.csv", apacheCSV)
	res, err := Load(Spec{Path: path, Format: FormatApache})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(res.Events) != 3 || res.Dropped != 1 || res.Coerced != 1 {
		t.Fatalf("events=%d dropped=%d coerced=%d, want 3/1/1", len(res.Events), res.Dropped, res.Coerced)
	}

	ev := res.Events[1]
	want := time.Date(2005, 12, 4, 4, 47, 44, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, want)
	}
	if ev.Level != event.LevelError || ev.Source != "apache" || ev.Component != "apache" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Template != "mod_jk child workerEnv in error state <*>" {
		t.Errorf("Template = %q", ev.Template)
	}
	if res.Events[2].HasTimestamp() {
		t.Error("unparseable time should be coerced to unknown")
	}
}

const hdfsCSV = `LineId,Date,Time,Pid,Level,Component,Content,EventId,EventTemplate
1,081109,203615,148,INFO,dfs.DataNode$PacketResponder,PacketResponder 1 for block blk_38865049064139660 terminating,E10,PacketResponder <*> for block <*> terminating
2,81109,3615,35,INFO,dfs.FSNamesystem,"BLOCK* NameSystem.allocateBlock: /mnt/hadoop/job.jar. blk_-1608999687919862906",E22,BLOCK* NameSystem.allocateBlock: <*>
3,081109,203807,222,WARN,,no component,E1,x
`

func TestLoadHDFS(t *testing.T) {
	path := writeFile(t, "hdfs.csv", hdfsCSV)
	res, err := Load(Spec{Path: path, Format: FormatHDFS, Source: "hadoop"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(res.Events) != 2 || res.Dropped != 1 {
		t.Fatalf("events=%d dropped=%d, want 2/1", len(res.Events), res.Dropped)
	}
	if got, want := res.Events[0].Timestamp, time.Date(2008, 11, 9, 20, 36, 15, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got, want)
	}
	if got, want := res.Events[1].Timestamp, time.Date(2008, 11, 9, 0, 36, 15, 0, time.UTC); !got.Equal(want) {
		t.Errorf("zero-padded Timestamp = %v, want %v", got, want)
	}
	if res.Events[1].Source != "hadoop" || res.Events[1].Component != "dfs.FSNamesystem" {
		t.Errorf("event = %+v", res.Events[1])
	}
}

func TestLoadMissingColumn(t *testing.T) {
	path := writeFile(t, "bad.csv", "Time,Level\nx,INFO\n")
	if _, err := Load(Spec{Path: path, Format: FormatApache}); err == nil {
		t.Error("missing Content column should fail")
	}
}

func TestLoadJSONL(t *testing.T) {
	content := `{"timestamp":"2024-05-01T12:00:00Z","source":"api","level":"error","component":"db","message":"timeout"}
not json

{"source":"api","level":"INFO","message":"no time"}
{"timestamp":"garbage","source":"api","level":"WARN","message":"bad time"}
{"timestamp":"2024-05-01 12:00:01","source":"api","level":"INFO"}
`
	res, err := Load(Spec{Path: writeFile(t, "app.jsonl", content), Format: FormatJSONL})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(res.Events) != 3 || res.Dropped != 2 || res.Coerced != 2 {
		t.Fatalf("events=%d dropped=%d coerced=%d, want 3/2/2", len(res.Events), res.Dropped, res.Coerced)
	}
	if res.Events[0].Level != event.LevelError || res.Events[0].Template != "timeout" {
		t.Errorf("event = %+v", res.Events[0])
	}
}

func TestLoadAllSortsUnknownLast(t *testing.T) {
	a := writeFile(t, "a.jsonl", `{"timestamp":"2024-05-01T12:00:02Z","source":"a","level":"INFO","message":"third"}
{"source":"a","level":"INFO","message":"untimed"}
`)
	b := writeFile(t, "b.jsonl", `{"timestamp":"2024-05-01T12:00:01Z","source":"b","level":"INFO","message":"second"}
{"timestamp":"2024-05-01T12:00:00Z","source":"b","level":"INFO","message":"first"}
`)
	res, err := LoadAll([]Spec{{Path: a, Format: FormatJSONL}, {Path: b, Format: FormatJSONL}})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, ev := range res.Events {
		got = append(got, ev.Message)
	}
	want := []string{"first", "second", "third", "untimed"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestLoadAllMissingFile(t *testing.T) {
	if _, err := LoadAll([]Spec{{Path: "/nonexistent/x.csv", Format: FormatApache}}); err == nil {
		t.Error("missing file should fail")
	}
}

func TestPayloadEvent(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ev, coerced, err := Payload{Source: "api", Level: "warning", Message: "m"}.Event(now)
	if err != nil || coerced || !ev.Timestamp.Equal(now) || ev.Level != event.LevelWarn {
		t.Errorf("missing timestamp: ev=%+v coerced=%v err=%v", ev, coerced, err)
	}

	_, _, err = Payload{Level: "INFO"}.Event(now)
	if !errors.Is(err, ErrMalformedRow) {
		t.Errorf("err = %v, want ErrMalformedRow", err)
	}

	ev, coerced, err = Payload{Timestamp: "yesterday-ish", Source: "s", Level: "INFO", Message: "m"}.Event(now)
	if err != nil || !coerced || ev.HasTimestamp() {
		t.Errorf("unparseable timestamp: ts=%v coerced=%v err=%v, want unknown time and coerced", ev.Timestamp, coerced, err)
	}

	ev, _, err = Payload{Timestamp: "2024-03-01T10:00:00+02:00", Source: "s", Level: "INFO", Message: "m"}.Event(now)
	if err != nil || !ev.Timestamp.Equal(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("zoned timestamp: %v %v", ev.Timestamp, err)
	}
}

func TestParseJSONLineFallback(t *testing.T) {
	arrival := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	line := []byte(`{"source":"api","level":"INFO","message":"no time"}`)

	ev, _, err := ParseJSONLine(line, time.Time{})
	if err != nil || ev.HasTimestamp() {
		t.Errorf("zero fallback: ts=%v err=%v, want unknown time", ev.Timestamp, err)
	}
	ev, _, err = ParseJSONLine(line, arrival)
	if err != nil || !ev.Timestamp.Equal(arrival) {
		t.Errorf("arrival fallback: ts=%v err=%v, want %v", ev.Timestamp, err, arrival)
	}
	if _, _, err := ParseJSONLine([]byte("{"), arrival); !errors.Is(err, ErrMalformedRow) {
		t.Errorf("err = %v, want ErrMalformedRow", err)
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"apache", "HDFS", " jsonl "} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("parquet"); err == nil {
		t.Error("parquet should be rejected")
	}
}

func TestSyntheticBurst(t *testing.T) {
	events := SyntheticBurst(DefaultBurst())
	if len(events) != 6 {
		t.Fatalf("len = %d, want 6", len(events))
	}
	if d := events[5].Timestamp.Sub(events[0].Timestamp); d != 100*time.Second {
		t.Errorf("span = %v, want 100s", d)
	}
	for _, ev := range events {
		if ev.Level != event.LevelError || ev.Template != "Disk failure detected on DataNode" {
			t.Errorf("event = %+v", ev)
		}
	}
	if events[0].ID == events[1].ID {
		t.Error("burst events should have distinct IDs")
	}
}
