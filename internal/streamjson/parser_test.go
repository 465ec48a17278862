package streamjson

import "testing"

func TestParseSimpleResult(t *testing.T) {
	data := []byte(`{"type":"result","result":"4","is_error":false,"duration_ms":50}` + "\n")
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Type != TypeResult {
		t.Fatalf("expected one result record, got %+v", res.Records)
	}
	if res.Records[0].ResultString() != "4" {
		t.Fatalf("expected result string '4', got %q", res.Records[0].ResultString())
	}
	if res.Partial {
		t.Fatal("did not expect partial for a clean single-line stream")
	}
}

func TestParseMultipleLines(t *testing.T) {
	data := []byte(
		`{"type":"assistant","message":{"id":"m1","content":[{"type":"text","text":"Hello"}]}}` + "\n" +
			`{"type":"assistant","message":{"id":"m2","content":[{"type":"text","text":"world"}]}}` + "\n" +
			`{"type":"result","result":"","is_error":false,"duration_ms":10}` + "\n",
	)
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Records))
	}
}

func TestParseConcatenatedObjectsOnOneLine(t *testing.T) {
	line := `{"type":"assistant","message":{"id":"m1","content":[{"type":"text","text":"a"}]}}` +
		`{"type":"tool_use","name":"Bash","tool_use_id":"t1"}` + "\n"
	res, err := Parse([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 salvaged records, got %d: %+v", len(res.Records), res.Records)
	}
	if !res.Partial {
		t.Fatal("expected partial=true for a salvaged line")
	}
}

func TestParseDropsTrailingFragmentButKeepsEarlierRecords(t *testing.T) {
	line := `{"type":"assistant","message":{"id":"m1","content":[{"type":"text","text":"a"}]}}` +
		`{"type":"tool_use","name":"Bash","tool_use_id":"t1"}` +
		`{"type":"resu`
	res, err := Parse([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected the two complete records salvaged, got %d", len(res.Records))
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for the dropped fragment")
	}
}

func TestParseAllUnparseableReturnsTruncated(t *testing.T) {
	_, err := Parse([]byte(`{"type":"resu`))
	if err == nil {
		t.Fatal("expected ErrTruncated when zero records are recovered")
	}
	if _, ok := err.(*ErrTruncated); !ok {
		t.Fatalf("expected *ErrTruncated, got %T", err)
	}
}

func TestParseIgnoresBlankLines(t *testing.T) {
	data := []byte("\n\n" + `{"type":"result","result":"ok","duration_ms":1}` + "\n\n")
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
}

func TestContentMessageBlocksAndText(t *testing.T) {
	m := &ContentMessage{Content: []byte(`[{"type":"text","text":"hi"}]`)}
	blocks := m.Blocks()
	if len(blocks) != 1 || blocks[0].Text != "hi" {
		t.Fatalf("expected one text block, got %+v", blocks)
	}

	m2 := &ContentMessage{Content: []byte(`"plain string content"`)}
	if m2.Text() != "plain string content" {
		t.Fatalf("expected plain string content, got %q", m2.Text())
	}
	if len(m2.Blocks()) != 0 {
		t.Fatal("did not expect blocks for string content")
	}
}
