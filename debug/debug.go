package debug

import (
	"bytes"
	"fmt"
	"log"

	"github.com/emberos/ember/common"
)

// PrintBlock logs a hex dump of a cache block's contents. The cache does not
// interpret block contents, so a plain dump is all we can offer.
func PrintBlock(cb *common.CacheBlock) {
	buf := bytes.NewBuffer(nil)
	for i := 0; i < len(cb.Block); i += 16 {
		end := i + 16
		if end > len(cb.Block) {
			end = len(cb.Block)
		}
		fmt.Fprintf(buf, "%08x  % x\n", i, []byte(cb.Block[i:end]))
	}
	log.Printf("Block %d on device %d:\n%s", cb.Blockno, cb.Devnum, buf.String())
}

// PrintPage logs a hex dump of the leading bytes of a page frame.
func PrintPage(pa common.PhysAddr, data []byte, n int) {
	if n > len(data) {
		n = len(data)
	}
	buf := bytes.NewBuffer(nil)
	for i := 0; i < n; i += 16 {
		end := i + 16
		if end > n {
			end = n
		}
		fmt.Fprintf(buf, "%08x  % x\n", i, data[i:end])
	}
	log.Printf("Page frame at %#x:\n%s", int64(pa), buf.String())
}
