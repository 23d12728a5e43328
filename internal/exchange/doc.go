// Package exchange runs the upper-triangle matrix exchange between the
// two group members. It owns the run lifecycle: group bootstrap, the
// startup validation gate on the sending rank, the pre-transfer
// barrier, the transfer itself and the console rendering of each
// side's view of the matrix.
//
// The transfer core (region descriptors and the tagged channel) stays
// below this package; everything above it is orchestration.
package exchange
