package targets

import (
	"bytes"
	"io"
	"os"
)

// FileKind classifies the content of a target file.
type FileKind int

const (
	KindList FileKind = iota
	KindNmap
	KindNessus
)

func (k FileKind) String() string {
	switch k {
	case KindNmap:
		return "nmap"
	case KindNessus:
		return "nessus"
	default:
		return "list"
	}
}

const sniffLen = 4096

// DetectFileKind inspects the head of a file to tell scan reports apart from
// plain newline-delimited lists.
func DetectFileKind(path string) (FileKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindList, err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindList, err
	}
	return sniff(head[:n]), nil
}

func sniff(head []byte) FileKind {
	switch {
	case bytes.Contains(head, []byte("<NessusClientData")):
		return KindNessus
	case bytes.Contains(head, []byte("<nmaprun")):
		return KindNmap
	default:
		return KindList
	}
}
