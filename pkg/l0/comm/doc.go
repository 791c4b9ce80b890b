// Package comm provides L0 protocol support.
package comm

// L0 protocol is communicated between the bootloader firmware and the host
// over a serial link and focuses on getting every application packet across
// intact, recovering from corrupted bytes without any timer on either side.
//
// Every frame is exactly 18 bytes: a length byte, 16 data bytes padded with
// 0xFF, and a CRC8 over the first 17 bytes. Two reserved frames, ACK and
// RETX, carry control. A receiver answers every good data frame with ACK and
// every corrupted frame with RETX, and a sender answers RETX by replaying the
// last frame it transmitted. There are no sequence numbers: only one frame
// may be outstanding at a time.
//
// Engine is single-threaded and never blocks. It is driven by calling Update
// from a polling context whenever bytes may be available.
