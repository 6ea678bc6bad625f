package static

import (
	"io"
	"os"
)

// readChunk bounds how much a single FileSource.Next call reads, so
// one static-file response never monopolizes a writable-readiness
// turn even when the underlying disk read is fast.
const readChunk = 32 << 10

// FileSource streams a file's content through an httpmsg.Source,
// first draining any bytes the caller already consumed for
// content-sniffing (prefix) before continuing to read the file from
// its current offset.
type FileSource struct {
	file   *os.File
	prefix []byte
}

func (s *FileSource) Next() ([]byte, bool, error) {
	if len(s.prefix) > 0 {
		p := s.prefix
		s.prefix = nil
		return p, false, nil
	}
	buf := make([]byte, readChunk)
	n, err := s.file.Read(buf)
	if n > 0 && err == nil {
		return buf[:n], false, nil
	}
	if err != nil && err != io.EOF {
		return nil, true, err
	}
	return buf[:n], true, nil
}

func (s *FileSource) Close() error {
	return s.file.Close()
}
