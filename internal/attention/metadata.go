package attention

import "fmt"

// Metadata describes one ragged batch to the attention step. The scheduler
// builds a fresh Metadata per decoding/prefill step; the backend reads it and
// never retains it.
//
// Definition of context_len, query_len, and seq_len for a sequence:
//
//	|---------- N-1 iteration --------|
//	|---------------- N iteration ---------------------|
//	|- tokenA -|......................|-- newTokens ---|
//	|---------- context_len ----------|
//	|-------------------- seq_len ---------------------|
//	                                  |-- query_len ---|
type Metadata struct {
	// SlotMapping[i] is the flat physical slot receiving the key/value of
	// query token i.
	SlotMapping []int32

	// BlockTables[s] lists, in logical order, the page ids backing sequence
	// s's context. Trailing entries past the sequence's length are ignored.
	BlockTables [][]int32

	// ContextLens[s] is the number of tokens already cached for sequence s,
	// excluding this step's new tokens.
	ContextLens []int32

	// QueryStartLoc has length NumSeqs+1; sequence s owns query rows
	// [QueryStartLoc[s], QueryStartLoc[s+1]).
	QueryStartLoc []int32

	NumSeqs int
}

// QueryLen is the number of new tokens sequence s contributes this step.
func (m *Metadata) QueryLen(s int) int {
	return int(m.QueryStartLoc[s+1] - m.QueryStartLoc[s])
}

// Validate checks the metadata against the batch's token count. It runs
// before any cache mutation so a malformed step never partially writes.
func (m *Metadata) Validate(numTokens int) error {
	if m.NumSeqs <= 0 {
		return fmt.Errorf("num_seqs must be positive, got %d", m.NumSeqs)
	}
	if len(m.QueryStartLoc) != m.NumSeqs+1 {
		return fmt.Errorf("query_start_loc length %d, want num_seqs+1 = %d",
			len(m.QueryStartLoc), m.NumSeqs+1)
	}
	if m.QueryStartLoc[0] != 0 {
		return fmt.Errorf("query_start_loc[0] = %d, want 0", m.QueryStartLoc[0])
	}
	if int(m.QueryStartLoc[m.NumSeqs]) != numTokens {
		return fmt.Errorf("query_start_loc[%d] = %d, want total tokens %d",
			m.NumSeqs, m.QueryStartLoc[m.NumSeqs], numTokens)
	}
	for s := 0; s < m.NumSeqs; s++ {
		if m.QueryStartLoc[s] > m.QueryStartLoc[s+1] {
			return fmt.Errorf("query_start_loc decreases at sequence %d", s)
		}
	}
	if len(m.ContextLens) < m.NumSeqs {
		return fmt.Errorf("context_lens length %d, want >= num_seqs %d",
			len(m.ContextLens), m.NumSeqs)
	}
	if len(m.BlockTables) < m.NumSeqs {
		return fmt.Errorf("block_tables rows %d, want >= num_seqs %d",
			len(m.BlockTables), m.NumSeqs)
	}
	if len(m.SlotMapping) != numTokens {
		return fmt.Errorf("slot_mapping length %d, want %d", len(m.SlotMapping), numTokens)
	}
	return nil
}
