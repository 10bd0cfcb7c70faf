package services

// Industry is a T86 selectType code and its display name
type Industry struct {
	Code string
	Name string
}

// Industries lists the T86 industry batches in crawl order.
// The first entry doubles as the trading-day probe.
var Industries = []Industry{
	{"24", "半導體業"},
	{"28", "電子零組件業"},
	{"25", "電腦及週邊設備業"},
	{"26", "光電業"},
	{"27", "通信網路業"},
	{"29", "電子通路業"},
	{"30", "資訊服務業"},
	{"13", "電子工業"},
	{"31", "其他電子業"},
	{"22", "生技醫療業"},
	{"01", "水泥工業"},
	{"02", "食品工業"},
	{"03", "塑膠工業"},
	{"05", "電機機械"},
	{"06", "電器電纜"},
	{"07", "化學生技醫療"},
	{"21", "化學工業"},
	{"11", "橡膠工業"},
	{"08", "玻璃陶瓷"},
	{"09", "造紙工業"},
	{"10", "鋼鐵工業"},
	{"12", "汽車工業"},
	{"14", "建材營造"},
	{"23", "油電燃氣業"},
	{"15", "航運業"},
	{"18", "貿易百貨"},
	{"37", "運動休閒"},
	{"38", "居家生活"},
	{"35", "綠能環保"},
	{"36", "數位雲端"},
	{"20", "其他業"},
}
