// Package spv implements Simplified Payment Verification for Bitcoin transactions.
//
// A proof bundle consists of a transaction's Merkle branch and the chain of block
// headers starting at the block that mined it. The Assembler gathers a bundle from a
// BitcoinClient; VerifyProof checks it without any I/O:
//
//   - the Merkle branch must recompute to the first header's merkle root;
//   - every header must link to its predecessor and meet its own compact target;
//   - header difficulties must follow the caller's previous/current epoch pair,
//     switching from previous to current at most once.
//
// Hashes are chainhash.Hash values in internal byte order throughout. Display order
// only exists at the string boundary (chainhash.NewHashFromStr and Hash.String).
// Header streams are always oldest first.
package spv
