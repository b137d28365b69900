package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Image 代表刊登商品的圖片
// 包含圖片URL以及上傳者的使用者ID，用於上傳頻率限制
type Image struct {
	gorm.Model

	ID         uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	UploaderID uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Url        string    `gorm:"type:text;not null;<-:create"`

	Uploader *User `gorm:"foreignKey:UploaderID"`
}
