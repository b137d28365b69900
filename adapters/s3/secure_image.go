package s3

// 允許上傳的圖片類型，值為儲存時使用的副檔名
// SVG刻意不在名單內: 內嵌script的SVG在瀏覽器中會直接執行
var imageExtensions = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
	"image/webp": "webp",
}

// CheckSecureImageAndGetExtension 依內容偵測出的MIME類型判斷
// 是否為允許的圖片，並回傳儲存用的副檔名
func CheckSecureImageAndGetExtension(mimeType string) (bool, string) {
	ext, ok := imageExtensions[mimeType]
	return ok, ext
}
