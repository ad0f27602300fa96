package indexer

import (
	"crypto/md5"
	"strconv"

	"github.com/google/uuid"
)

// PointID returns the stable point ID for one chunk of a document page:
// the MD5 of "source::page::chunk" read as a UUID.
func PointID(source string, page, chunkIndex int) string {
	sum := md5.Sum([]byte(source + "::" + strconv.Itoa(page) + "::" + strconv.Itoa(chunkIndex)))
	return uuid.UUID(sum).String()
}
