/**
 * 主程序入口
 * @date: 2026.10.17
 * @description: server 启动编排服务与控制接口，migrate 迁移表结构并写入初始数据
 */

package main

func main() {
	Execute()
}
