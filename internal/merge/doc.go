// Package merge combines per-model delineations into one mask per case.
//
// Three voxel-wise strategies are supported: union (any source nonzero),
// intersection (all sources nonzero) and majority (mean above one half).
// Results are written as uint8 masks carrying the header and affine of the
// first source directory's volume.
package merge
