package model

// PlaylistItem is one entry of an expanded playlist
type PlaylistItem struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	JobID   string `json:"job_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Playlist is an expanded playlist whose items are submitted as individual jobs
type Playlist struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	URL   string          `json:"url"`
	Items []*PlaylistItem `json:"items"`
}

// PlaylistSummary aggregates the statuses of a playlist's jobs
type PlaylistSummary struct {
	Total    int               `json:"total"`
	Done     int               `json:"done"`
	Failed   int               `json:"failed"`
	ByStatus map[JobStatus]int `json:"by_status"`
	Progress float64           `json:"progress"`
}

// NewPlaylist creates a new playlist instance
func NewPlaylist(url string) *Playlist {
	return &Playlist{
		URL:   url,
		Items: make([]*PlaylistItem, 0),
	}
}

// AddItem appends an item to the playlist
func (p *Playlist) AddItem(item *PlaylistItem) {
	p.Items = append(p.Items, item)
}

// JobIDs returns the ids of the items that were submitted successfully
func (p *Playlist) JobIDs() []string {
	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		if it.JobID != "" {
			ids = append(ids, it.JobID)
		}
	}
	return ids
}

// Summarize counts the statuses of the given jobs.
// Progress is the mean job progress, with done jobs counting as complete.
func Summarize(jobs []*Job) PlaylistSummary {
	s := PlaylistSummary{Total: len(jobs), ByStatus: make(map[JobStatus]int)}
	if len(jobs) == 0 {
		return s
	}
	var sum float64
	for _, j := range jobs {
		s.ByStatus[j.Status]++
		switch j.Status {
		case StatusDone:
			s.Done++
			sum += 1
		case StatusError:
			s.Failed++
		default:
			if j.Status.HasProgress() {
				sum += j.Progress
			}
		}
	}
	s.Progress = sum / float64(len(jobs))
	return s
}
