// Package qr decodes and classifies the on-screen QR codes of a recording:
// mezzanine frame markers, test-runner status reports and the pre-test
// session announcement. It also locates the frame areas the codes appear
// in so that steady-state scanning only touches small crops.
package qr
