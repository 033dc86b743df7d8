package model

type PlaybackTarget string

const (
	PlaybackTargetLaptop PlaybackTarget = "laptop"
	PlaybackTargetPhone  PlaybackTarget = "phone"
	PlaybackTargetBoth   PlaybackTarget = "both"
)

func (t PlaybackTarget) Valid() bool {
	switch t {
	case PlaybackTargetLaptop, PlaybackTargetPhone, PlaybackTargetBoth:
		return true
	}
	return false
}

type TrackInfo struct {
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Album     string  `json:"album,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	VideoID   string  `json:"videoId"`
	Duration  float64 `json:"duration"`
}

// PlaybackState is the host's latest view of the player.
type PlaybackState struct {
	IsPlaying      bool           `json:"isPlaying"`
	CurrentTime    float64        `json:"currentTime"`
	Duration       float64        `json:"duration"`
	Volume         int            `json:"volume"`
	TrackInfo      *TrackInfo     `json:"trackInfo,omitempty"`
	QueuePosition  int            `json:"queuePosition"`
	QueueLength    int            `json:"queueLength"`
	PlaybackTarget PlaybackTarget `json:"playbackTarget,omitempty"`
}

type QueueItem struct {
	VideoID   string  `json:"videoId"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration"`
	AddedBy   string  `json:"addedBy,omitempty"`
	IsPlaying bool    `json:"isPlaying"`
}

type LyricLine struct {
	Time float64 `json:"time"`
	Text string  `json:"text"`
}

// Lyrics for one track. Synced lyrics carry per-line timestamps in seconds;
// otherwise only Plain is set.
type Lyrics struct {
	VideoID string      `json:"videoId"`
	Source  string      `json:"source,omitempty"`
	Synced  bool        `json:"synced"`
	Lines   []LyricLine `json:"lines,omitempty"`
	Plain   string      `json:"plain,omitempty"`
}
