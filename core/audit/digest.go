package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
)

// LogDigest computes a Merkle root over the lines of a JSONL audit log so an
// operator can record it and later detect edits to the file. An empty log has
// an empty digest.
func LogDigest(path string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var hashes [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		h := sha256.Sum256(line)
		hashes = append(hashes, h[:])
	}
	if err := sc.Err(); err != nil {
		return "", 0, err
	}
	if len(hashes) == 0 {
		return "", 0, nil
	}
	return fmt.Sprintf("%x", merkleRoot(hashes)), len(hashes), nil
}

// merkleRoot pairs hashes level by level; an odd one out is carried up.
func merkleRoot(hashes [][]byte) []byte {
	for len(hashes) > 1 {
		next := make([][]byte, 0, (len(hashes)+1)/2)
		for i := 0; i < len(hashes); i += 2 {
			if i+1 == len(hashes) {
				next = append(next, hashes[i])
				continue
			}
			h := sha256.New()
			h.Write(hashes[i])
			h.Write(hashes[i+1])
			next = append(next, h.Sum(nil))
		}
		hashes = next
	}
	return hashes[0]
}
