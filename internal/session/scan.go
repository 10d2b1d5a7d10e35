package session

import (
	"context"
	"image"
	"io"
	"sync"
	"sync/atomic"

	"playback-observer/internal/frames"
	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
	"playback-observer/internal/qr"
	"playback-observer/internal/timeline"
	"playback-observer/internal/workers"
)

type scanJob struct {
	index int
	gray  *image.Gray
}

type scanResult struct {
	index int
	dets  []qr.Detection
}

// scanFrames runs the decode-scan-assemble pipeline: one reader goroutine
// feeds a pool of scan workers, and results are re-sequenced back into
// camera order before reaching the assembler. Scanning dominates the cost,
// the pool is sized for CPU-bound work.
func scanFrames(ctx context.Context, src *frames.Source, asm *timeline.Assembler, loc *qr.Locator, mode qr.Mode, searchLimit int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerCount := workers.ForCPU(0)
	metrics.QrScanWorkers.Set(float64(workerCount))
	logging.Info("Scanning with %d workers (%s mode)", workerCount, mode)

	fullScanner := qr.NewScanner(mode, nil)
	var croppedScanner atomic.Pointer[qr.Scanner]

	jobs := make(chan scanJob, workerCount*2)
	results := make(chan scanResult, workerCount*2)

	var readErr error
	go func() {
		defer close(jobs)
		for {
			frame, err := src.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				readErr = err
				return
			}
			select {
			case jobs <- scanJob{index: frame.Index, gray: frame.Gray}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				scanner := fullScanner
				if s := croppedScanner.Load(); s != nil {
					scanner = s
				}
				dets := scanner.Scan(job.gray, job.index)
				select {
				case results <- scanResult{index: job.index, dets: dets}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Re-sequence: workers finish out of order, the assembler needs
	// strictly increasing frame indexes.
	frameBounds := image.Rect(0, 0, src.Width(), src.Height())
	pending := make(map[int][]qr.Detection)
	next := 0
	locating := true

	for res := range results {
		pending[res.index] = res.dets
		for {
			dets, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)

			if locating {
				loc.Observe(dets)
				if loc.Complete() || next >= searchLimit {
					regions := loc.Regions(frameBounds)
					croppedScanner.Store(qr.NewScanner(mode, regions))
					locating = false
					logging.Info("QR regions locked after %d frames: mezzanine %v, status %v",
						next+1, regions.Mezzanine, regions.Status)
				}
			}

			if err := asm.Push(next, dets); err != nil {
				cancel()
				drain(results)
				return err
			}
			if asm.State() == timeline.Ended {
				cancel()
				drain(results)
				return nil
			}
			next++
		}
	}

	return readErr
}

func drain(results chan scanResult) {
	for range results {
	}
}
