package audit

// Package audit persists coordination decisions for later replay.
//
// It currently records:
//   - Leadership takeovers
//   - Node claim decisions
//   - Scaling decisions
