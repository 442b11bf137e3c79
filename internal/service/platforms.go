package service

// 引入对话平台插件，触发各平台的 init() 完成注册
import (
	_ "github.com/consoleprov/consoleprov/addone/dialogue/platforms/vyos"
)
