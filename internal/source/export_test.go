package source

var (
	PageFilter  = pageFilter
	PageOptions = pageOptions
)
