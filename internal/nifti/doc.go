// Package nifti reads and writes single-file NIfTI-1 images (.nii, .nii.gz).
//
// Reading supports both byte orders, the common integer and floating point
// datatypes, and scl_slope/scl_inter scaling. Writing is limited to uint8
// masks that reuse the geometry of a source header.
package nifti
