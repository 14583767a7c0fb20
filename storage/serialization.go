// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/autollama/autollama/core"
	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Serializers for the values kept in the key-value backends. Field order is
// the wire format.
var (
	SessionMUS mus.Serializer[core.Session] = sessionMUS{}
	ChunkMUS   mus.Serializer[core.Chunk]   = chunkMUS{}
	VectorMUS  mus.Serializer[VectorRecord] = vectorMUS{}
)

// MarshalSession serializes a Session to bytes.
func MarshalSession(session *core.Session) []byte {
	buf := make([]byte, SessionMUS.Size(*session))
	SessionMUS.Marshal(*session, buf)
	return buf
}

// UnmarshalSession deserializes a Session from bytes.
func UnmarshalSession(data []byte) (*core.Session, error) {
	session, _, err := SessionMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: session: %w", ErrSerializationFailed, err)
	}
	return &session, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, ChunkMUS.Size(*chunk))
	ChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, _, err := ChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk: %w", ErrSerializationFailed, err)
	}
	return &chunk, nil
}

// MarshalVector serializes a VectorRecord to bytes.
func MarshalVector(record *VectorRecord) []byte {
	buf := make([]byte, VectorMUS.Size(*record))
	VectorMUS.Marshal(*record, buf)
	return buf
}

// UnmarshalVector deserializes a VectorRecord from bytes.
func UnmarshalVector(data []byte) (*VectorRecord, error) {
	record, _, err := VectorMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: vector: %w", ErrSerializationFailed, err)
	}
	return &record, nil
}

type sessionMUS struct{}

func (sessionMUS) encode(e *encoder, v core.Session) {
	put(e, ord.String, v.ID)
	put(e, ord.String, v.Source)
	put(e, varint.Int, v.TotalChunks)
	put(e, varint.Int, v.CompletedChunks)
	put(e, ord.String, string(v.Status))
	put(e, ord.String, v.ErrorMessage)
	put(e, ord.Bool, v.Resumable)
	put(e, ord.Bool, v.Context != nil)
	if v.Context != nil {
		put(e, ord.String, v.Context.Title)
		put(e, ord.String, v.Context.Summary)
		e.strings(v.Context.Topics)
	}
	e.stringMap(v.Metadata)
	e.time(v.CreatedAt)
	e.time(v.UpdatedAt)
	e.time(v.LastActivityAt)
	e.optionalTime(v.CompletedAt)
}

func (s sessionMUS) Marshal(v core.Session, bs []byte) (n int) {
	e := &encoder{buf: bs}
	s.encode(e, v)
	return e.n
}

func (s sessionMUS) Size(v core.Session) (size int) {
	e := &encoder{}
	s.encode(e, v)
	return e.n
}

func (sessionMUS) Unmarshal(bs []byte) (v core.Session, n int, err error) {
	d := &decoder{buf: bs}
	var status string
	take(d, ord.String, &v.ID)
	take(d, ord.String, &v.Source)
	take(d, varint.Int, &v.TotalChunks)
	take(d, varint.Int, &v.CompletedChunks)
	take(d, ord.String, &status)
	take(d, ord.String, &v.ErrorMessage)
	take(d, ord.Bool, &v.Resumable)
	var hasContext bool
	take(d, ord.Bool, &hasContext)
	if hasContext {
		v.Context = &core.DocumentContext{}
		take(d, ord.String, &v.Context.Title)
		take(d, ord.String, &v.Context.Summary)
		v.Context.Topics = d.strings()
	}
	v.Metadata = d.stringMap()
	v.CreatedAt = d.time()
	v.UpdatedAt = d.time()
	v.LastActivityAt = d.time()
	v.CompletedAt = d.optionalTime()
	v.Status = core.SessionStatus(status)
	return v, d.n, d.err
}

func (s sessionMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type chunkMUS struct{}

func (chunkMUS) encode(e *encoder, v core.Chunk) {
	put(e, ord.String, v.ID)
	put(e, ord.String, v.SessionID)
	put(e, ord.String, v.Source)
	put(e, varint.Int, v.Index)
	put(e, ord.String, v.Text)
	put(e, ord.String, string(v.EmbeddingStatus))
	put(e, ord.String, string(v.AnalysisStatus))
	put(e, ord.Bool, v.Analysis != nil)
	if a := v.Analysis; a != nil {
		put(e, ord.String, a.Sentiment)
		e.strings(a.Emotions)
		put(e, ord.String, a.Category)
		e.strings(a.Topics)
		put(e, varint.Int, len(a.Concepts))
		for _, c := range a.Concepts {
			put(e, ord.String, c.Name)
			put(e, ord.String, c.Type)
			put(e, varint.Int, c.Importance)
		}
		put(e, ord.String, a.Summary)
	}
	put(e, ord.Bool, v.UsesContextualEmbedding)
	e.time(v.CreatedAt)
	e.optionalTime(v.ProcessedAt)
}

func (s chunkMUS) Marshal(v core.Chunk, bs []byte) (n int) {
	e := &encoder{buf: bs}
	s.encode(e, v)
	return e.n
}

func (s chunkMUS) Size(v core.Chunk) (size int) {
	e := &encoder{}
	s.encode(e, v)
	return e.n
}

func (chunkMUS) Unmarshal(bs []byte) (v core.Chunk, n int, err error) {
	d := &decoder{buf: bs}
	var embedding, analysis string
	take(d, ord.String, &v.ID)
	take(d, ord.String, &v.SessionID)
	take(d, ord.String, &v.Source)
	take(d, varint.Int, &v.Index)
	take(d, ord.String, &v.Text)
	take(d, ord.String, &embedding)
	take(d, ord.String, &analysis)
	var hasAnalysis bool
	take(d, ord.Bool, &hasAnalysis)
	if hasAnalysis {
		a := &core.AnalysisResult{}
		take(d, ord.String, &a.Sentiment)
		a.Emotions = d.strings()
		take(d, ord.String, &a.Category)
		a.Topics = d.strings()
		if count := d.length(); count > 0 {
			a.Concepts = make([]core.Concept, count)
			for i := range a.Concepts {
				take(d, ord.String, &a.Concepts[i].Name)
				take(d, ord.String, &a.Concepts[i].Type)
				take(d, varint.Int, &a.Concepts[i].Importance)
			}
		}
		take(d, ord.String, &a.Summary)
		v.Analysis = a
	}
	take(d, ord.Bool, &v.UsesContextualEmbedding)
	v.CreatedAt = d.time()
	v.ProcessedAt = d.optionalTime()
	v.EmbeddingStatus = core.ChunkStatus(embedding)
	v.AnalysisStatus = core.ChunkStatus(analysis)
	return v, d.n, d.err
}

func (s chunkMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type vectorMUS struct{}

func (vectorMUS) encode(e *encoder, v VectorRecord) {
	put(e, ord.String, v.ChunkID)
	put(e, varint.Int, len(v.Vector))
	for _, f := range v.Vector {
		put(e, raw.Float32, f)
	}
	e.stringMap(v.Payload)
	e.time(v.UpdatedAt)
}

func (s vectorMUS) Marshal(v VectorRecord, bs []byte) (n int) {
	e := &encoder{buf: bs}
	s.encode(e, v)
	return e.n
}

func (s vectorMUS) Size(v VectorRecord) (size int) {
	e := &encoder{}
	s.encode(e, v)
	return e.n
}

func (vectorMUS) Unmarshal(bs []byte) (v VectorRecord, n int, err error) {
	d := &decoder{buf: bs}
	take(d, ord.String, &v.ChunkID)
	if count := d.length(); count > 0 {
		v.Vector = make([]float32, count)
		for i := range v.Vector {
			take(d, raw.Float32, &v.Vector[i])
		}
	}
	v.Payload = d.stringMap()
	v.UpdatedAt = d.time()
	return v, d.n, d.err
}

func (s vectorMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

// encoder marshals into buf, or only accumulates the size when buf is nil.
type encoder struct {
	buf []byte
	n   int
}

func put[T any](e *encoder, ser mus.Serializer[T], v T) {
	if e.buf == nil {
		e.n += ser.Size(v)
		return
	}
	e.n += ser.Marshal(v, e.buf[e.n:])
}

func (e *encoder) strings(vs []string) {
	put(e, varint.Int, len(vs))
	for _, v := range vs {
		put(e, ord.String, v)
	}
}

func (e *encoder) stringMap(m map[string]string) {
	put(e, varint.Int, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		put(e, ord.String, k)
		put(e, ord.String, m[k])
	}
}

// Times are stored as UTC unix nanoseconds, with zero meaning the zero time.
func (e *encoder) time(t time.Time) {
	var nanos int64
	if !t.IsZero() {
		nanos = t.UnixNano()
	}
	put(e, varint.Int64, nanos)
}

func (e *encoder) optionalTime(t *time.Time) {
	put(e, ord.Bool, t != nil)
	if t != nil {
		e.time(*t)
	}
}

// decoder reads fields in order and stops at the first error.
type decoder struct {
	buf []byte
	n   int
	err error
}

func take[T any](d *decoder, ser mus.Serializer[T], v *T) {
	if d.err != nil {
		return
	}
	var n int
	*v, n, d.err = ser.Unmarshal(d.buf[d.n:])
	d.n += n
}

// length reads a collection length. Every element takes at least one byte,
// so a length beyond the remaining input is corrupt.
func (d *decoder) length() int {
	var count int
	take(d, varint.Int, &count)
	if d.err == nil && (count < 0 || count > len(d.buf)-d.n) {
		d.err = fmt.Errorf("invalid length %d", count)
	}
	if d.err != nil {
		return 0
	}
	return count
}

func (d *decoder) strings() []string {
	count := d.length()
	if count == 0 {
		return nil
	}
	vs := make([]string, count)
	for i := range vs {
		take(d, ord.String, &vs[i])
	}
	return vs
}

func (d *decoder) stringMap() map[string]string {
	count := d.length()
	if count == 0 {
		return nil
	}
	m := make(map[string]string, count)
	for range count {
		var k, v string
		take(d, ord.String, &k)
		take(d, ord.String, &v)
		m[k] = v
	}
	return m
}

func (d *decoder) time() time.Time {
	var nanos int64
	take(d, varint.Int64, &nanos)
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func (d *decoder) optionalTime() *time.Time {
	var ok bool
	take(d, ord.Bool, &ok)
	if !ok {
		return nil
	}
	t := d.time()
	return &t
}
