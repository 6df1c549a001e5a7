package module

// Stats are the counters of a module.
type Stats struct {
	Accesses uint64 `yaml:"accesses"`
	Hits     uint64 `yaml:"hits"`
	Misses   uint64 `yaml:"misses"`
	Retries  uint64 `yaml:"retries"`

	Reads       uint64 `yaml:"reads"`
	ReadHits    uint64 `yaml:"read_hits"`
	ReadRetries uint64 `yaml:"read_retries"`

	Writes       uint64 `yaml:"writes"`
	WriteHits    uint64 `yaml:"write_hits"`
	WriteRetries uint64 `yaml:"write_retries"`

	NCWrites       uint64 `yaml:"nc_writes"`
	NCWriteHits    uint64 `yaml:"nc_write_hits"`
	NCWriteRetries uint64 `yaml:"nc_write_retries"`

	Prefetches        uint64 `yaml:"prefetches"`
	UselessPrefetches uint64 `yaml:"useless_prefetches"`
	PrefetchAborts    uint64 `yaml:"prefetch_aborts"`

	CoalescedReads  uint64 `yaml:"coalesced_reads"`
	CoalescedWrites uint64 `yaml:"coalesced_writes"`

	Evictions          uint64 `yaml:"evictions"`
	DirectoryConflicts uint64 `yaml:"directory_conflicts"`

	UpDownReads   uint64 `yaml:"up_down_reads"`
	UpDownWrites  uint64 `yaml:"up_down_writes"`
	DownUpReads   uint64 `yaml:"down_up_reads"`
	DownUpWrites  uint64 `yaml:"down_up_writes"`
	BlockNotFound uint64 `yaml:"block_not_found"`
	PeerTransfers uint64 `yaml:"peer_transfers"`
}

// HitRatio returns hits over accesses, or 0 without accesses.
func (s Stats) HitRatio() float64 {
	if s.Accesses == 0 {
		return 0
	}

	return float64(s.Hits) / float64(s.Accesses)
}

// RecordLookup counts a directory lookup made for a client access.
func (s *Stats) RecordLookup(kind AccessKind, hit, retry bool) {
	s.Accesses++

	if hit {
		s.Hits++
	} else {
		s.Misses++
	}

	if retry {
		s.Retries++
	}

	switch kind {
	case Load:
		s.Reads++
		s.ReadHits += b2u(hit)
		s.ReadRetries += b2u(retry)
	case Store:
		s.Writes++
		s.WriteHits += b2u(hit)
		s.WriteRetries += b2u(retry)
	case NCStore:
		s.NCWrites++
		s.NCWriteHits += b2u(hit)
		s.NCWriteRetries += b2u(retry)
	case Prefetch:
		s.Prefetches++
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}
