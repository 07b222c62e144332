package filemod

import "github.com/bianoble/codemod-runner/internal/digest"

// ProgressEvent reports how many discovered files have been processed.
type ProgressEvent struct {
	Processed int
	Total     int
	Path      string
	Finished  bool
}

// Progress tracks processed and discovered paths by digest. Each path counts
// once no matter how often it is processed. Not safe for concurrent use.
type Progress struct {
	processed map[digest.Digest]struct{}
	total     map[digest.Digest]struct{}
}

func NewProgress() *Progress {
	return &Progress{
		processed: make(map[digest.Digest]struct{}),
		total:     make(map[digest.Digest]struct{}),
	}
}

// Discover adds paths to the total.
func (p *Progress) Discover(paths ...string) {
	for _, path := range paths {
		p.total[digest.Of(path)] = struct{}{}
	}
}

// Done marks path processed (and discovered) and returns the new event.
func (p *Progress) Done(path string) ProgressEvent {
	d := digest.Of(path)
	p.processed[d] = struct{}{}
	p.total[d] = struct{}{}
	return ProgressEvent{Processed: len(p.processed), Total: len(p.total), Path: path}
}

// IsDone reports whether path has been processed.
func (p *Progress) IsDone(path string) bool {
	_, ok := p.processed[digest.Of(path)]
	return ok
}

// Counts returns the processed and total counts.
func (p *Progress) Counts() (processed, total int) {
	return len(p.processed), len(p.total)
}

// Complete reports whether every discovered path has been processed.
func (p *Progress) Complete() bool {
	return len(p.processed) == len(p.total)
}
