package cmd

import (
	"context"
	"fmt"
	"log"

	"AutoFM/config"
	"AutoFM/storage"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的混音制品，支持按前缀列出与批量删除。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		// 加载配置
		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		// 初始化MinIO客户端
		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		client := storage.GetMinioClient()
		ctx := context.Background()
		opts := minio.ListObjectsOptions{Prefix: minioPrefix, Recursive: true}

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定前缀")
			}
			fmt.Printf("\n删除前缀下的文件: %s\n", minioPrefix)
			deleted := 0
			for object := range client.ListObjects(ctx, cfg.MinioBucket, opts) {
				if object.Err != nil {
					log.Fatalf("列出文件失败: %v", object.Err)
				}
				if err := client.RemoveObject(ctx, cfg.MinioBucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
					log.Fatalf("删除 %s 失败: %v", object.Key, err)
				}
				fmt.Printf("已删除: %s\n", object.Key)
				deleted++
			}
			fmt.Printf("共删除 %d 个文件\n", deleted)
		} else {
			fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
			var count int
			var totalSize int64
			for object := range client.ListObjects(ctx, cfg.MinioBucket, opts) {
				if object.Err != nil {
					log.Fatalf("列出文件失败: %v", object.Err)
				}
				fmt.Printf("%10d  %s  %s\n", object.Size, object.LastModified.Format("2006-01-02 15:04:05"), object.Key)
				count++
				totalSize += object.Size
			}
			fmt.Printf("共 %d 个文件, 总大小 %d 字节\n", count, totalSize)
		}

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "mixes/", "按前缀过滤文件")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定前缀下的所有文件")

	minioCmd.Example = `  # 列出所有混音制品
  autofm minio

  # 删除某个前缀下的所有文件
  autofm minio -d -p "mixes/"`
}
