package transform

var (
	Snake = snake
	Point = point
	Money = money
)
