package pktstream

import (
	"bytes"
	"io"
	"testing"

	"github.com/nseba/gitfilterd/pkg/pktline"
)

func TestWriterThenReaderRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 5, pktline.MaxPayloadLength, pktline.MaxPayloadLength*2 + 37}
	for _, size := range sizes {
		data := bytes.Repeat([]byte{0x42}, size)

		var wire bytes.Buffer
		pw := pktline.NewWriter(&wire)
		bw := NewWriter(pw)

		// Chunk the writes oddly to prove P3 holds regardless of write sizes.
		for len(data) > 0 {
			n := 7
			if n > len(data) {
				n = len(data)
			}
			if _, err := bw.Write(data[:n]); err != nil {
				t.Fatalf("Write: %v", err)
			}
			data = data[n:]
		}
		if err := bw.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := pw.WriteFlush(); err != nil {
			t.Fatalf("WriteFlush: %v", err)
		}

		original := bytes.Repeat([]byte{0x42}, size)
		pr := pktline.NewReader(&wire)
		br := NewReader(pr)

		var got bytes.Buffer
		readBuf := make([]byte, 3)
		for {
			n, err := br.Read(readBuf)
			got.Write(readBuf[:n])
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
		}

		if !bytes.Equal(got.Bytes(), original) {
			t.Errorf("size %d: round trip mismatch, got %d bytes want %d", size, got.Len(), len(original))
		}
		if !br.Finished() {
			t.Errorf("size %d: Reader should report Finished after flush", size)
		}
	}
}

func TestReaderFinishedBeforeFullyDrained(t *testing.T) {
	var wire bytes.Buffer
	pw := pktline.NewWriter(&wire)
	if err := pw.WriteBinary([]byte("hello")); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}
	if err := pw.WriteFlush(); err != nil {
		t.Fatalf("WriteFlush: %v", err)
	}

	pr := pktline.NewReader(&wire)
	br := NewReader(pr)
	if br.Finished() {
		t.Fatalf("Finished before any read")
	}

	small := make([]byte, 2)
	if _, err := br.Read(small); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if br.Finished() {
		t.Fatalf("Finished before the flush packet has been consumed")
	}
}

func TestWriterPanicsOnWriteAfterClose(t *testing.T) {
	var wire bytes.Buffer
	bw := NewWriter(pktline.NewWriter(&wire))
	if err := bw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic writing to a closed Writer")
		}
	}()
	_, _ = bw.Write([]byte("x"))
}

func TestReaderEmptyStreamIsImmediatelyFinished(t *testing.T) {
	var wire bytes.Buffer
	pw := pktline.NewWriter(&wire)
	if err := pw.WriteFlush(); err != nil {
		t.Fatalf("WriteFlush: %v", err)
	}

	br := NewReader(pktline.NewReader(&wire))
	n, err := br.Read(make([]byte, 4))
	if n != 0 || err != io.EOF {
		t.Fatalf("Read on empty payload stream = (%d, %v), want (0, io.EOF)", n, err)
	}
	if !br.Finished() {
		t.Fatalf("expected Finished after reading an immediate flush")
	}
}
