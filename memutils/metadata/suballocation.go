package metadata

// Suballocation is a single range handed out from a page
type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}
