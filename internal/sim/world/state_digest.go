package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// stateDigest hashes the replicated state. Two worlds that agree on it agree
// on everything a peer can observe.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	msg, err := w.registry.Collect(nowTick, 0, w.ecs.Mark())
	if err != nil {
		w.log.Printf("[world] tick=%d digest: %v", nowTick, err)
		return ""
	}
	recs := msg.Added
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Entity != recs[j].Entity {
			return recs[i].Entity < recs[j].Entity
		}
		return recs[i].Component < recs[j].Component
	})
	digestWriteU64(h, &tmp, uint64(len(recs)))
	for _, r := range recs {
		digestWriteU64(h, &tmp, r.Entity)
		h.Write([]byte(r.Component))
		h.Write([]byte{0})
		h.Write(r.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
