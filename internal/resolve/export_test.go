package resolve

var (
	IDsQuery      = idsQuery
	TypedIDsQuery = typedIDsQuery
)
